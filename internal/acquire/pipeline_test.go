package acquire

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/power-plant/powerplant/internal/ffmpeg"
	"github.com/power-plant/powerplant/internal/product"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errExpected = errors.New("test: expected error")

type fakeRecords struct {
	mu sync.Mutex

	record *product.Product

	claimErr          error
	replaceMediaErr   error
	replaceMediaFails int

	replacedWith    [][]string
	processingSets  []bool
	setProcessErr   error
}

func (f *fakeRecords) GetByID(_ context.Context, id uuid.UUID) (*product.Product, error) {
	if f.record == nil || f.record.ID != id {
		return nil, product.ErrNotFound
	}
	return f.record, nil
}

func (f *fakeRecords) ClaimProcessing(_ context.Context, _ uuid.UUID) error {
	return f.claimErr
}

func (f *fakeRecords) SetProcessing(_ context.Context, _ uuid.UUID, processing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setProcessErr != nil {
		return f.setProcessErr
	}
	f.processingSets = append(f.processingSets, processing)
	return nil
}

func (f *fakeRecords) ReplaceMedia(_ context.Context, _ uuid.UUID, urls []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceMediaFails > 0 {
		f.replaceMediaFails--
		return errExpected
	}
	if f.replaceMediaErr != nil {
		return f.replaceMediaErr
	}
	f.replacedWith = append(f.replacedWith, urls)
	return nil
}

type fakeObjects struct {
	mu sync.Mutex

	uploaded    []string
	uploadDelay map[string]time.Duration
	uploadErrs  map[string]error
	listing     []string
	listErr     error
}

func (f *fakeObjects) Upload(_ context.Context, localPath string, key string, _ map[string]string) (string, error) {
	if delay, ok := f.uploadDelay[filepath.Base(localPath)]; ok {
		time.Sleep(delay)
	}
	if err, ok := f.uploadErrs[filepath.Base(localPath)]; ok {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded = append(f.uploaded, key)
	return f.PublicURL(key), nil
}

func (f *fakeObjects) List(_ context.Context, _ string) ([]string, error) {
	return f.listing, f.listErr
}

func (f *fakeObjects) PublicURL(key string) string {
	return "https://bucket.s3.region.amazonaws.com/" + key
}

func (f *fakeObjects) ObjectKey(code string, index int, extension string) string {
	return fmt.Sprintf("media/%s/%d%s", code, index, extension)
}

func (f *fakeObjects) CodePrefix(code string) string {
	return fmt.Sprintf("media/%s/", code)
}

// fakeDownloader materializes the given relative-path/size pairs into the
// destination directory, mimicking a torrent payload landing on disk.
type fakeDownloader struct {
	files map[string]int
	err   error

	destDir string
}

func (f *fakeDownloader) Download(_ context.Context, _ string, destDir string) error {
	if f.err != nil {
		return f.err
	}

	f.destDir = destDir
	for name, size := range f.files {
		path := filepath.Join(destDir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
			return err
		}
	}
	return nil
}

type fakeTranscoder struct {
	failFor map[string]bool
	calls   []string
}

func (f *fakeTranscoder) Transcode(_ context.Context, inputPath string, outputPath string) error {
	f.calls = append(f.calls, inputPath)
	if f.failFor[filepath.Base(inputPath)] {
		return errExpected
	}

	payload, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, payload, 0o644)
}

type fakeProber struct{}

func (fakeProber) Probe(_ string) *ffmpeg.MediaInfo { return nil }

const mb = 1024 * 1024

func testRecord() *product.Product {
	url := "magnet:?xt=urn:btih:abc"
	return &product.Product{ID: uuid.New(), Code: "ABC-123", DownloadURL: &url}
}

func newTestPipeline(t *testing.T, records *fakeRecords, objects *fakeObjects, dl *fakeDownloader, tc *fakeTranscoder) *Pipeline {
	t.Helper()
	return NewPipeline(
		Config{
			MinFileSizeMB:         1,
			ScratchRoot:           t.TempDir(),
			RecordWriteRetryDelay: time.Millisecond,
		},
		records, objects, dl, tc, fakeProber{},
	)
}

func Test_RunDownload_FiltersAndFinalizes(t *testing.T) {
	t.Parallel()
	records := &fakeRecords{record: testRecord()}
	objects := &fakeObjects{}
	downloader := &fakeDownloader{files: map[string]int{
		"movie.mkv":          2 * mb,
		"extras/sample.srt":  50,
	}}

	pipeline := newTestPipeline(t, records, objects, downloader, &fakeTranscoder{})
	require.NoError(t, pipeline.RunDownload(context.Background(), records.record.ID))

	require.Len(t, records.replacedWith, 1)
	assert.Equal(t, []string{"https://bucket.s3.region.amazonaws.com/media/ABC-123/1.mkv"}, records.replacedWith[0])
	assert.Empty(t, records.processingSets, "finalize releases the flag; no separate reset expected")
	assert.NoDirExists(t, filepath.Join(downloader.destDir), "scratch directory should be cleaned up")
}

func Test_RunDownload_MissingRecord(t *testing.T) {
	t.Parallel()
	pipeline := newTestPipeline(t, &fakeRecords{}, &fakeObjects{}, &fakeDownloader{}, &fakeTranscoder{})

	err := pipeline.RunDownload(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func Test_RunDownload_NoDownloadSource(t *testing.T) {
	t.Parallel()
	record := testRecord()
	record.DownloadURL = nil
	pipeline := newTestPipeline(t, &fakeRecords{record: record}, &fakeObjects{}, &fakeDownloader{}, &fakeTranscoder{})

	err := pipeline.RunDownload(context.Background(), record.ID)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func Test_RunDownload_AlreadyProcessing(t *testing.T) {
	t.Parallel()
	records := &fakeRecords{record: testRecord(), claimErr: product.ErrAlreadyProcessing}
	pipeline := newTestPipeline(t, records, &fakeObjects{}, &fakeDownloader{}, &fakeTranscoder{})

	err := pipeline.RunDownload(context.Background(), records.record.ID)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
	assert.Empty(t, records.processingSets, "a claim that never succeeded must not be released")
}

func Test_RunDownload_DownloaderFailureReleasesFlag(t *testing.T) {
	t.Parallel()
	records := &fakeRecords{record: testRecord()}
	pipeline := newTestPipeline(t, records, &fakeObjects{}, &fakeDownloader{err: errExpected}, &fakeTranscoder{})

	err := pipeline.RunDownload(context.Background(), records.record.ID)
	assert.ErrorIs(t, err, ErrDownloadFailed)
	assert.Equal(t, []bool{false}, records.processingSets)
	assert.Empty(t, records.replacedWith)
}

func Test_RunDownload_EmptyPayloadFails(t *testing.T) {
	t.Parallel()
	records := &fakeRecords{record: testRecord()}
	pipeline := newTestPipeline(t, records, &fakeObjects{}, &fakeDownloader{files: map[string]int{}}, &fakeTranscoder{})

	err := pipeline.RunDownload(context.Background(), records.record.ID)
	assert.ErrorIs(t, err, ErrDownloadFailed)
	assert.Equal(t, []bool{false}, records.processingSets)
}

func Test_RunDownload_PreservesUploadOrderUnderRacingCompletions(t *testing.T) {
	t.Parallel()
	records := &fakeRecords{record: testRecord()}

	// First file's upload finishes last; the finalized URL list must still
	// follow candidate order, not completion order.
	objects := &fakeObjects{uploadDelay: map[string]time.Duration{
		"a.mkv": time.Millisecond * 150,
		"b.mkv": time.Millisecond * 50,
		"c.mkv": time.Millisecond * 5,
	}}
	downloader := &fakeDownloader{files: map[string]int{
		"a.mkv": 2 * mb,
		"b.mkv": 2 * mb,
		"c.mkv": 2 * mb,
	}}

	pipeline := newTestPipeline(t, records, objects, downloader, &fakeTranscoder{})
	require.NoError(t, pipeline.RunDownload(context.Background(), records.record.ID))

	require.Len(t, records.replacedWith, 1)
	urls := records.replacedWith[0]
	require.Len(t, urls, 3)
	for index, url := range urls {
		assert.True(t, strings.HasSuffix(url, fmt.Sprintf("/%d.mkv", index+1)), "url %q out of place at index %d", url, index)
	}
}

func Test_RunDownload_PartialUploadSuccessIsFinalized(t *testing.T) {
	t.Parallel()
	records := &fakeRecords{record: testRecord()}
	objects := &fakeObjects{uploadErrs: map[string]error{"b.mkv": errExpected}}
	downloader := &fakeDownloader{files: map[string]int{
		"a.mkv": 2 * mb,
		"b.mkv": 2 * mb,
	}}

	pipeline := newTestPipeline(t, records, objects, downloader, &fakeTranscoder{})
	err := pipeline.RunDownload(context.Background(), records.record.ID)

	assert.ErrorIs(t, err, ErrUploadFailed)
	require.Len(t, records.replacedWith, 1)
	assert.Len(t, records.replacedWith[0], 1, "the successful upload must still be recorded")
}

func Test_RunDownload_RetriesRecordWriteOnce(t *testing.T) {
	t.Parallel()
	records := &fakeRecords{record: testRecord(), replaceMediaFails: 1}
	downloader := &fakeDownloader{files: map[string]int{"a.mkv": 2 * mb}}

	pipeline := newTestPipeline(t, records, &fakeObjects{}, downloader, &fakeTranscoder{})
	require.NoError(t, pipeline.RunDownload(context.Background(), records.record.ID))
	require.Len(t, records.replacedWith, 1)
}

func Test_RunDownload_PersistentRecordWriteFailure(t *testing.T) {
	t.Parallel()
	records := &fakeRecords{record: testRecord(), replaceMediaErr: errExpected}
	downloader := &fakeDownloader{files: map[string]int{"a.mkv": 2 * mb}}

	pipeline := newTestPipeline(t, records, &fakeObjects{}, downloader, &fakeTranscoder{})
	err := pipeline.RunDownload(context.Background(), records.record.ID)

	assert.ErrorIs(t, err, ErrRecordWrite)
	assert.Equal(t, []bool{false}, records.processingSets)
}

func Test_RunDownload_TranscodeFailureSkipsFile(t *testing.T) {
	t.Parallel()
	records := &fakeRecords{record: testRecord()}
	objects := &fakeObjects{}
	downloader := &fakeDownloader{files: map[string]int{
		"good.mkv": 2 * mb,
		"bad.mkv":  2 * mb,
	}}
	transcoder := &fakeTranscoder{failFor: map[string]bool{"bad.mkv": true}}

	pipeline := NewPipeline(
		Config{MinFileSizeMB: 1, TranscodeEnabled: true, ScratchRoot: t.TempDir(), RecordWriteRetryDelay: time.Millisecond},
		records, objects, downloader, transcoder, fakeProber{},
	)

	require.NoError(t, pipeline.RunDownload(context.Background(), records.record.ID))
	assert.Len(t, transcoder.calls, 2)
	require.Len(t, records.replacedWith, 1)
	assert.Len(t, records.replacedWith[0], 1)
	assert.True(t, strings.HasSuffix(records.replacedWith[0][0], ".mp4"), "uploaded artifact should be the transcoded output")
}

func Test_RunCompression_RebuildsFromListing(t *testing.T) {
	t.Parallel()
	records := &fakeRecords{record: testRecord()}
	objects := &fakeObjects{listing: []string{
		"media/ABC-123/2.mkv",
		"media/ABC-123/1.compressed.mp4",
	}}
	downloader := &fakeDownloader{files: map[string]int{"1.mkv": 100}}
	transcoder := &fakeTranscoder{}

	pipeline := newTestPipeline(t, records, objects, downloader, transcoder)
	require.NoError(t, pipeline.RunCompression(context.Background(), records.record.ID, "https://bucket.s3.region.amazonaws.com/media/ABC-123/1.mkv"))

	assert.Len(t, transcoder.calls, 1, "compression runs always transcode, below the size threshold or not")
	require.Len(t, records.replacedWith, 1)
	assert.Equal(t, []string{
		"https://bucket.s3.region.amazonaws.com/media/ABC-123/1.compressed.mp4",
		"https://bucket.s3.region.amazonaws.com/media/ABC-123/2.mkv",
	}, records.replacedWith[0])
}

func Test_RunCompression_RequiresTargetURL(t *testing.T) {
	t.Parallel()
	pipeline := newTestPipeline(t, &fakeRecords{record: testRecord()}, &fakeObjects{}, &fakeDownloader{}, &fakeTranscoder{})

	err := pipeline.RunCompression(context.Background(), uuid.New(), "")
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}
