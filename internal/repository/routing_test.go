package repository

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waconnect/bridge-server-go/internal/database"
	"github.com/waconnect/bridge-server-go/internal/model"
)

// Integration tests against a real Postgres with scripts/schema.sql applied.
// Skipped unless TEST_DATABASE_URL is set.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.Connect(url)
	require.NoError(t, err)
	return db
}

func createTestLocation(t *testing.T, db *database.DB, externalID string) *model.Location {
	t.Helper()
	repo := NewLocationRepository(db.DB)
	loc, err := repo.Create(context.Background(), model.CreateLocationParams{
		TenantID:   "tenant-test",
		ExternalID: externalID,
		Name:       "Test Location",
		EmbedToken: "embed-" + externalID,
	})
	require.NoError(t, err)
	return loc
}

func createTestInstance(t *testing.T, db *database.DB, token string, locationID *string) *model.Instance {
	t.Helper()
	repo := NewInstanceRepository(db.DB)
	inst, err := repo.Create(context.Background(), model.CreateInstanceParams{
		TenantID:    "tenant-test",
		DisplayName: "Instance " + token,
		Token:       token,
		Status:      model.InstanceStatusConnected,
		LocationID:  locationID,
	})
	require.NoError(t, err)
	return inst
}

func TestRoutingRepository_SetAndFindPreference(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	repo := NewRoutingRepository(db.DB)
	loc := createTestLocation(t, db, "ext-routing-1")
	inst := createTestInstance(t, db, "tok-routing-1", &loc.ID)

	phone := "5511987654321"
	contact := "contact-routing-1"

	pref, err := repo.SetPreference(ctx, model.SetPreferenceParams{
		LocationID: loc.ID,
		LeadPhone:  &phone,
		ContactID:  &contact,
		InstanceID: inst.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, inst.ID, pref.InstanceID)

	t.Run("exact phone match", func(t *testing.T) {
		found, err := repo.FindPreference(ctx, loc.ID, "5511987654321", "1987654321")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, inst.ID, found.InstanceID)
	})

	t.Run("trailing ten digits match", func(t *testing.T) {
		found, err := repo.FindPreference(ctx, loc.ID, "99911987654321", "1987654321")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, inst.ID, found.InstanceID)
	})

	t.Run("no match", func(t *testing.T) {
		found, err := repo.FindPreference(ctx, loc.ID, "5511900000000", "1900000000")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("upsert moves the preference", func(t *testing.T) {
		other := createTestInstance(t, db, "tok-routing-2", &loc.ID)

		updated, err := repo.SetPreference(ctx, model.SetPreferenceParams{
			LocationID: loc.ID,
			LeadPhone:  &phone,
			ContactID:  &contact,
			InstanceID: other.ID,
		})
		require.NoError(t, err)
		assert.Equal(t, other.ID, updated.InstanceID)

		found, err := repo.FindPreference(ctx, loc.ID, phone, "1987654321")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, other.ID, found.InstanceID)
	})
}

func TestRoutingRepository_ContactOnlyPreference(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	repo := NewRoutingRepository(db.DB)
	loc := createTestLocation(t, db, "ext-routing-2")
	inst := createTestInstance(t, db, "tok-routing-3", &loc.ID)

	contact := "contact-only-1"
	_, err := repo.SetPreference(ctx, model.SetPreferenceParams{
		LocationID: loc.ID,
		ContactID:  &contact,
		InstanceID: inst.ID,
	})
	require.NoError(t, err)

	found, err := repo.FindPreferenceByContact(ctx, loc.ID, contact)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, inst.ID, found.InstanceID)
	assert.Nil(t, found.LeadPhone)
}

func TestRoutingRepository_PhoneMappingFirstSeenWins(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	repo := NewRoutingRepository(db.DB)
	loc := createTestLocation(t, db, "ext-routing-3")

	err := repo.CreatePhoneMappingIfAbsent(ctx, model.CreatePhoneMappingParams{
		ContactID:  "contact-map-1",
		LocationID: loc.ID,
		Phone:      "5511911112222",
	})
	require.NoError(t, err)

	// Second sighting with a different phone must not overwrite.
	err = repo.CreatePhoneMappingIfAbsent(ctx, model.CreatePhoneMappingParams{
		ContactID:  "contact-map-1",
		LocationID: loc.ID,
		Phone:      "5511933334444",
	})
	require.NoError(t, err)

	mapping, err := repo.FindPhoneMapping(ctx, loc.ID, "contact-map-1")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, "5511911112222", mapping.Phone)
}

func TestInstanceRepository_UnlinkAllByTenant(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	repo := NewInstanceRepository(db.DB)
	loc := createTestLocation(t, db, "ext-unlink-1")

	a := createTestInstance(t, db, "tok-unlink-1", &loc.ID)
	b := createTestInstance(t, db, "tok-unlink-2", &loc.ID)

	count, err := repo.UnlinkAllByTenant(ctx, "tenant-test")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, int64(2))

	for _, id := range []string{a.ID, b.ID} {
		inst, err := repo.FindByID(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, inst)
		assert.Nil(t, inst.LocationID)
	}
}

func TestInstanceRepository_FindConnectedByLocationOrder(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	repo := NewInstanceRepository(db.DB)
	loc := createTestLocation(t, db, "ext-order-1")

	for _, name := range []string{"Zulu", "Alpha", "Mike"} {
		_, err := repo.Create(ctx, model.CreateInstanceParams{
			TenantID:    "tenant-test",
			DisplayName: name,
			Token:       "tok-order-" + name,
			Status:      model.InstanceStatusConnected,
			LocationID:  &loc.ID,
		})
		require.NoError(t, err)
	}

	connected, err := repo.FindConnectedByLocation(ctx, loc.ID)
	require.NoError(t, err)
	require.Len(t, connected, 3)
	assert.Equal(t, "Alpha", connected[0].DisplayName)
	assert.Equal(t, "Mike", connected[1].DisplayName)
	assert.Equal(t, "Zulu", connected[2].DisplayName)
}
