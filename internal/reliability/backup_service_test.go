package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/flipwatch/engine/internal/database"
	"github.com/flipwatch/engine/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite" // SQLite driver
)

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (f *fakeObjectStore) Upload(_ context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeObjectStore) List(_ context.Context, prefix string) ([]types.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]string, 0, len(f.objects))
	for key := range f.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	objects := make([]types.Object, 0, len(keys))
	for _, key := range keys {
		objects = append(objects, types.Object{
			Key:  aws.String(key),
			Size: aws.Int64(int64(len(f.objects[key]))),
		})
	}
	return objects, nil
}

func (f *fakeObjectStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeObjectStore) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]string, 0, len(f.objects))
	for key := range f.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func newBackupTestDB(t *testing.T, dir, name string) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(dir, name+".db"),
		Profile: database.ProfileStandard,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestCreateAndUpload_ArchivesAllDatabases(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	dataDir := t.TempDir()

	alertsDB := newBackupTestDB(t, dataDir, "alerts")
	catalogDB := newBackupTestDB(t, dataDir, "catalog")

	_, err := alertsDB.Conn().Exec("CREATE TABLE alerts (id TEXT PRIMARY KEY, product_ref TEXT)")
	require.NoError(t, err)
	_, err = alertsDB.Conn().Exec("INSERT INTO alerts (id, product_ref) VALUES ('a1', 'B00PROD001'), ('a2', 'B00PROD002')")
	require.NoError(t, err)

	_, err = catalogDB.Conn().Exec("CREATE TABLE products (ref TEXT PRIMARY KEY)")
	require.NoError(t, err)

	store := newFakeObjectStore()
	service := NewBackupService(store, map[string]*database.DB{
		"alerts":  alertsDB,
		"catalog": catalogDB,
	}, dataDir, 7, log)

	require.NoError(t, service.CreateAndUpload(context.Background()))

	keys := store.keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], archivePrefix)
	assert.Contains(t, keys[0], ".tar.gz")

	// Unpack the uploaded archive and check its contents survived the trip.
	files := extractArchive(t, store.objects[keys[0]])
	assert.Contains(t, files, "alerts.db")
	assert.Contains(t, files, "catalog.db")
	require.Contains(t, files, "backup-metadata.json")

	var metadata BackupMetadata
	require.NoError(t, json.Unmarshal(files["backup-metadata.json"], &metadata))
	require.Len(t, metadata.Databases, 2)
	assert.Equal(t, "alerts", metadata.Databases[0].Name)
	assert.Equal(t, "catalog", metadata.Databases[1].Name)
	for _, db := range metadata.Databases {
		assert.Contains(t, db.Checksum, "sha256:")
		assert.Positive(t, db.SizeBytes)
	}

	// The alerts snapshot must be an intact database with the rows.
	snapshotPath := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, os.WriteFile(snapshotPath, files["alerts.db"], 0644))

	snap, err := sql.Open("sqlite", snapshotPath)
	require.NoError(t, err)
	defer snap.Close()

	var count int
	require.NoError(t, snap.QueryRow("SELECT COUNT(*) FROM alerts").Scan(&count))
	assert.Equal(t, 2, count)

	// Staging directory is cleaned up after the upload.
	_, err = os.Stat(filepath.Join(dataDir, "backup-staging"))
	assert.True(t, os.IsNotExist(err))
}

func TestRotateOld_KeepsMinimumAndRecent(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	store := newFakeObjectStore()

	now := time.Now().UTC()
	ages := []time.Duration{
		1 * 24 * time.Hour,
		2 * 24 * time.Hour,
		3 * 24 * time.Hour,
		10 * 24 * time.Hour,
		20 * 24 * time.Hour,
	}
	for _, age := range ages {
		name := archivePrefix + now.Add(-age).Format(archiveTimeFormat) + ".tar.gz"
		store.objects[name] = []byte("archive")
	}

	service := NewBackupService(store, nil, t.TempDir(), 7, log)
	require.NoError(t, service.RotateOld(context.Background()))

	// The three newest always survive; beyond those, only archives within
	// the 7-day retention do. The 10- and 20-day archives go.
	assert.Len(t, store.keys(), 3)
	assert.Len(t, store.deleted, 2)
}

func TestRotateOld_ZeroRetentionKeepsEverything(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	store := newFakeObjectStore()

	now := time.Now().UTC()
	for days := 1; days <= 5; days++ {
		name := archivePrefix + now.AddDate(0, 0, -days*30).Format(archiveTimeFormat) + ".tar.gz"
		store.objects[name] = []byte("archive")
	}

	service := NewBackupService(store, nil, t.TempDir(), 0, log)
	require.NoError(t, service.RotateOld(context.Background()))

	assert.Len(t, store.keys(), 5)
	assert.Empty(t, store.deleted)
}

func TestListBackups_SortsNewestFirstAndSkipsForeignKeys(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	store := newFakeObjectStore()

	now := time.Now().UTC().Truncate(time.Second)
	older := archivePrefix + now.Add(-48*time.Hour).Format(archiveTimeFormat) + ".tar.gz"
	newer := archivePrefix + now.Add(-1*time.Hour).Format(archiveTimeFormat) + ".tar.gz"
	store.objects[older] = []byte("old")
	store.objects[newer] = []byte("new")
	store.objects[archivePrefix+"not-a-timestamp.tar.gz"] = []byte("junk")

	service := NewBackupService(store, nil, t.TempDir(), 7, log)

	backups, err := service.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, newer, backups[0].Filename)
	assert.Equal(t, older, backups[1].Filename)
	assert.GreaterOrEqual(t, backups[1].AgeHours, int64(48))
}

func extractArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()

	gzipReader, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gzipReader.Close()

	files := make(map[string][]byte)
	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		content, err := io.ReadAll(tarReader)
		require.NoError(t, err)
		files[header.Name] = content
	}

	return files
}
