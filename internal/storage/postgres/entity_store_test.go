package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/channel-discovery-crawler/internal/crawler"
)

var entityColumns = []string{"id", "last_crawl", "attributes", "discovered_at"}

func newMockStore(t *testing.T) (*EntityStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewEntityStoreWithPool(mock, "channels")
	require.NoError(t, err)
	return store, mock
}

func TestNewEntityStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewEntityStoreWithPool(mock, "channels; DROP TABLE x")
	require.Error(t, err)
	_, err = NewEntityStoreWithPool(nil, "channels")
	require.Error(t, err)

	store, err := NewEntityStoreWithPool(mock, "")
	require.NoError(t, err)
	assert.Equal(t, defaultTable, store.table)
}

func TestTryClaimFirstWriterWins(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	claimSQL := regexp.QuoteMeta(`INSERT INTO channels (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`)
	mock.ExpectExec(claimSQL).WithArgs("UC1").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(claimSQL).WithArgs("UC1").WillReturnResult(pgxmock.NewResult("INSERT", 0))

	won, err := store.TryClaim(context.Background(), "UC1")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.TryClaim(context.Background(), "UC1")
	require.NoError(t, err)
	assert.False(t, won)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTryClaimWrapsErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO channels").WithArgs("UC1").WillReturnError(errors.New("conn closed"))

	_, err := store.TryClaim(context.Background(), "UC1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claim entity")

	_, err = store.TryClaim(context.Background(), "")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertWritesAttributesAndLastCrawl(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec(regexp.QuoteMeta("attributes = COALESCE(EXCLUDED.attributes, channels.attributes)")).
		WithArgs("UC1", []byte(`{"subscribers":42,"title":"Alpha"}`), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO channels").
		WithArgs("UC1", nil, now.Add(time.Minute)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Upsert(context.Background(), "UC1",
		crawler.Attributes{"title": "Alpha", "subscribers": 42}, now))
	require.NoError(t, store.Upsert(context.Background(), "UC1", nil, now.Add(time.Minute)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDecodesRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	crawled := time.Unix(1700000000, 0).UTC()
	discovered := crawled.Add(-time.Hour)

	mock.ExpectQuery("SELECT id, last_crawl, attributes, discovered_at FROM channels WHERE id").
		WithArgs("UC1").
		WillReturnRows(pgxmock.NewRows(entityColumns).
			AddRow("UC1", &crawled, []byte(`{"title":"Alpha","views":7}`), discovered))
	mock.ExpectQuery("SELECT id, last_crawl").
		WithArgs("UC2").
		WillReturnRows(pgxmock.NewRows(entityColumns))

	entity, err := store.Get(context.Background(), "UC1")
	require.NoError(t, err)
	assert.Equal(t, "UC1", entity.ID)
	require.NotNil(t, entity.LastCrawl)
	assert.Equal(t, crawled, *entity.LastCrawl)
	assert.Equal(t, "Alpha", entity.Attributes["title"])
	assert.EqualValues(t, 7, entity.Attributes["views"])
	assert.Equal(t, discovered, entity.DiscoveredAt)

	_, err = store.Get(context.Background(), "UC2")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListStaleOrdersOldestFirst(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	cutoff := time.Unix(1700000000, 0).UTC()
	older := cutoff.Add(-48 * time.Hour)
	old := cutoff.Add(-25 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY last_crawl ASC, id ASC")).
		WithArgs(cutoff, 2).
		WillReturnRows(pgxmock.NewRows(entityColumns).
			AddRow("UC9", &older, nil, older).
			AddRow("UC3", &old, []byte(`{"title":"Three"}`), older))

	stale, err := store.ListStale(context.Background(), cutoff, 2)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, "UC9", stale[0].ID)
	assert.Nil(t, stale[0].Attributes)
	assert.Equal(t, "Three", stale[1].Attributes["title"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateCreatesTable(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS channels")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPingChecksPool(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewEntityStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}
