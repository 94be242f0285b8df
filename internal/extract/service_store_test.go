package extract

import (
	"context"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/RecSpeed/firmwareextrs/internal/extract/domain"
	"github.com/RecSpeed/firmwareextrs/internal/extract/storage"
	"github.com/RecSpeed/firmwareextrs/shared/logger"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreadableValues are stored values no job record decodes from
var unreadableValues = map[string]string{
	"unknown state": `{"key":"boot:rom","state":"paused","track_id":"t1"}`,
	"truncated":     `{"state":`,
	"whitespace":    "   ",
}

// backends returns a fresh store per available cache backend
func backends(t *testing.T) map[string]func(t *testing.T) storage.Store {
	t.Helper()

	out := map[string]func(t *testing.T) storage.Store{
		"memory": func(*testing.T) storage.Store {
			return storage.NewMemoryStore(nil)
		},
		"redis": func(t *testing.T) storage.Store {
			mr := miniredis.RunT(t)
			rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { rdb.Close() })
			return storage.NewRedisStore(rdb, "fce:")
		},
	}

	if dsn := strings.TrimSpace(os.Getenv("FCE_TEST_POSTGRES_DSN")); dsn != "" {
		out["postgres"] = func(t *testing.T) storage.Store {
			db, err := sqlx.Connect("postgres", dsn)
			require.NoError(t, err)
			t.Cleanup(func() { db.Close() })

			store := storage.NewPostgresStore(db)
			require.NoError(t, store.EnsureSchema(context.Background()))
			_, err = db.ExecContext(context.Background(), `DELETE FROM fce_cache WHERE key = 'boot:rom'`)
			require.NoError(t, err)
			return store
		}
	}
	return out
}

func TestResolve_UnreadableRecordDispatches(t *testing.T) {
	for backend, open := range backends(t) {
		for name, value := range unreadableValues {
			t.Run(backend+"/"+name, func(t *testing.T) {
				store := open(t)
				ctx := context.Background()
				require.NoError(t, store.Put(ctx, "boot:rom", value, time.Hour))

				log := logger.NewDiscard()
				jobs := storage.NewJobStore(store, log, nil)
				fci := newFakeCI()
				svc := NewService(Dependencies{
					Jobs:   jobs,
					CI:     fci,
					Logger: log,
				}, Options{})

				res, err := svc.Resolve(ctx, Request{URL: bootRomURL, ImageType: "boot"})
				require.NoError(t, err)
				assert.Equal(t, domain.StatusProcessing, res.Status)
				assert.Equal(t, http.StatusAccepted, res.HTTPStatus)
				assert.Equal(t, 1, fci.dispatchCalls)

				record, found := jobs.Get(ctx, "boot:rom")
				require.True(t, found, "dispatch replaces the unreadable value")
				assert.Equal(t, domain.StateProcessing, record.State)
				assert.Equal(t, res.TrackID, record.TrackID)

				again, err := svc.Resolve(ctx, Request{URL: bootRomURL, ImageType: "boot"})
				require.NoError(t, err)
				assert.Equal(t, res.TrackID, again.TrackID)
				assert.Equal(t, 1, fci.dispatchCalls)
			})
		}
	}
}

func TestResolve_UnreadableRecordWithoutTTLDispatches(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.store.Put(context.Background(), "boot:rom", `{"state":`, 0))

	res, err := f.resolve(bootRomURL, "boot")
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, res.HTTPStatus)
	assert.Equal(t, 1, f.ci.dispatchCalls)
}
