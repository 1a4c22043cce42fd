package policy

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl-hori/auth-platform-sub001/internal/apperr"
	"github.com/bl-hori/auth-platform-sub001/internal/config"
	"github.com/bl-hori/auth-platform-sub001/internal/events"
	"github.com/bl-hori/auth-platform-sub001/internal/models"
	"github.com/bl-hori/auth-platform-sub001/internal/policy/engine"
	"github.com/bl-hori/auth-platform-sub001/internal/storage/storagetest"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

const validRego = "package authz\n\ndefault allow = false\n\nallow { input.rbacDecision == \"allow\" }\n"

func newService(t *testing.T) (*Service, *storagetest.FakeStore, string, *[]models.MutationEvent) {
	t.Helper()
	store := storagetest.NewFakeStore()
	orgID := uuid.New().String()
	require.NoError(t, store.Organizations().Create(context.Background(), &models.Organization{
		ID: orgID, Name: "T1", Status: models.OrgStatusActive,
	}))

	bus := events.NewBus(logger.NewNop())
	var published []models.MutationEvent
	bus.SubscribeAll(func(e models.MutationEvent) { published = append(published, e) })

	// Engine disabled: validation uses the local structural fallback.
	eng := engine.New(config.PolicyEngineConfig{Enabled: false}, logger.NewNop())
	return NewService(store, eng, bus, logger.NewNop()), store, orgID, &published
}

func TestCreateValidatesAndVersions(t *testing.T) {
	svc, _, orgID, published := newService(t)

	p, v, err := svc.Create(context.Background(), orgID, "base-policy", "Base", models.PolicyTypeRego, validRego)
	require.NoError(t, err)

	assert.Equal(t, models.PolicyStatusDraft, p.Status)
	assert.Equal(t, 1, p.CurrentVersion)
	assert.Equal(t, 1, v.Version)
	assert.Equal(t, Checksum(validRego), v.Checksum)
	assert.Equal(t, models.ValidationValid, v.ValidationStatus)
	assert.NotEmpty(t, *published, "creation publishes a policy change event")
}

func TestCreateDuplicateNameConflicts(t *testing.T) {
	svc, _, orgID, _ := newService(t)

	_, _, err := svc.Create(context.Background(), orgID, "p", "", models.PolicyTypeRego, validRego)
	require.NoError(t, err)

	_, _, err = svc.Create(context.Background(), orgID, "p", "", models.PolicyTypeRego, validRego)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestDenylistedContentInvalidAndUnpublishable(t *testing.T) {
	for _, content := range []string{
		"package authz\nimport http.send\nallow = true\n",
		"package authz\nallow { resp := http.send({\"url\": \"x\"}) }\n",
	} {
		svc, _, orgID, _ := newService(t)

		p, v, err := svc.Create(context.Background(), orgID, "banned", "", models.PolicyTypeRego, content)
		require.NoError(t, err)
		assert.Equal(t, models.ValidationInvalid, v.ValidationStatus)
		assert.NotEmpty(t, v.ValidationErrors)

		err = svc.Publish(context.Background(), orgID, p.ID, 0)
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.KindPrecondition))
	}
}

func TestEmptyContentInvalid(t *testing.T) {
	svc, _, orgID, _ := newService(t)

	_, v, err := svc.Create(context.Background(), orgID, "empty", "", models.PolicyTypeRego, "")
	require.NoError(t, err)
	assert.Equal(t, models.ValidationInvalid, v.ValidationStatus)
	assert.Equal(t, "empty_content", v.ValidationErrors[0].Code)
}

func TestCedarUnsupported(t *testing.T) {
	svc, _, orgID, _ := newService(t)

	_, v, err := svc.Create(context.Background(), orgID, "cedar-policy", "", models.PolicyTypeCedar, "permit(principal, action, resource);")
	require.NoError(t, err)
	assert.Equal(t, models.ValidationInvalid, v.ValidationStatus)
	assert.Equal(t, "unsupported", v.ValidationErrors[0].Code)
}

func TestPublishArchiveRestoreLifecycle(t *testing.T) {
	svc, store, orgID, published := newService(t)
	ctx := context.Background()

	p, v, err := svc.Create(ctx, orgID, "lifecycle", "", models.PolicyTypeRego, validRego)
	require.NoError(t, err)

	// Archive of a draft is a precondition failure.
	err = svc.Archive(ctx, orgID, p.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindPrecondition))

	require.NoError(t, svc.Publish(ctx, orgID, p.ID, 0))
	got, err := svc.Get(ctx, orgID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PolicyStatusActive, got.Status)

	pv, err := store.Policies().GetVersion(ctx, p.ID, v.Version)
	require.NoError(t, err)
	assert.NotNil(t, pv.PublishedAt)

	require.NoError(t, svc.Archive(ctx, orgID, p.ID))
	got, err = svc.Get(ctx, orgID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PolicyStatusArchived, got.Status)

	require.NoError(t, svc.Restore(ctx, orgID, p.ID))
	got, err = svc.Get(ctx, orgID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PolicyStatusActive, got.Status)

	// Every transition invalidated the tenant's decisions.
	assert.GreaterOrEqual(t, len(*published), 4)
	for _, e := range *published {
		assert.Equal(t, models.EventPolicyChanged, e.Type)
		assert.Equal(t, orgID, e.TenantID)
	}
}

func TestUpdateContentAppendsVersions(t *testing.T) {
	svc, _, orgID, _ := newService(t)
	ctx := context.Background()

	p, _, err := svc.Create(ctx, orgID, "versioned", "", models.PolicyTypeRego, validRego)
	require.NoError(t, err)

	v2, err := svc.UpdateContent(ctx, orgID, p.ID, validRego+"\n# tweak\n")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	got, err := svc.Get(ctx, orgID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentVersion)

	versions, err := svc.ListVersions(ctx, orgID, p.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestDuplicateChecksumSurfacedInMetadata(t *testing.T) {
	svc, _, orgID, _ := newService(t)
	ctx := context.Background()

	p, _, err := svc.Create(ctx, orgID, "dup", "", models.PolicyTypeRego, validRego)
	require.NoError(t, err)

	_, err = svc.UpdateContent(ctx, orgID, p.ID, validRego)
	require.NoError(t, err)

	got, err := svc.Get(ctx, orgID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "2", got.Metadata["duplicate_checksum_versions"])
}

func TestRevalidate(t *testing.T) {
	svc, store, orgID, _ := newService(t)
	ctx := context.Background()

	p, v, err := svc.Create(ctx, orgID, "revalidated", "", models.PolicyTypeRego, validRego)
	require.NoError(t, err)
	require.Equal(t, models.ValidationValid, v.ValidationStatus)

	// Simulate a stale invalid verdict, then rerun validation.
	require.NoError(t, store.Policies().SetVersionValidation(ctx, v.ID, models.ValidationInvalid,
		[]models.ValidationError{{Code: "rego_parse_error", Message: "stale"}}))

	fresh, err := svc.Revalidate(ctx, orgID, p.ID, v.Version)
	require.NoError(t, err)
	assert.Equal(t, models.ValidationValid, fresh.ValidationStatus)
	assert.Empty(t, fresh.ValidationErrors)

	_, err = svc.Revalidate(ctx, orgID, p.ID, 99)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestTenantIsolation(t *testing.T) {
	svc, store, orgID, _ := newService(t)
	ctx := context.Background()

	otherOrg := uuid.New().String()
	require.NoError(t, store.Organizations().Create(ctx, &models.Organization{
		ID: otherOrg, Name: "T2", Status: models.OrgStatusActive,
	}))

	p, _, err := svc.Create(ctx, orgID, "isolated", "", models.PolicyTypeRego, validRego)
	require.NoError(t, err)

	_, err = svc.Get(ctx, otherOrg, p.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	err = svc.Publish(ctx, otherOrg, p.ID, 0)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}
