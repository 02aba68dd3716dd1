package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RockyZHH/MediaCrawler/api/schemas"
)

// fakeExecutor scripts the three client calls the pipeline makes and records
// every invocation.
type fakeExecutor struct {
	getFn  func(uri string, params url.Values) (schemas.Outcome, error)
	postFn func(uri string, payload any) (schemas.Outcome, error)
	putFn  func(fileID, token, contentType string, size int64) (schemas.Outcome, error)

	gets, posts, puts int
}

func (f *fakeExecutor) Get(_ context.Context, uri string, params url.Values) (schemas.Outcome, error) {
	f.gets++
	return f.getFn(uri, params)
}

func (f *fakeExecutor) Post(_ context.Context, uri string, payload any) (schemas.Outcome, error) {
	f.posts++
	return f.postFn(uri, payload)
}

func (f *fakeExecutor) UploadPut(_ context.Context, fileID, token, contentType string, body io.Reader, size int64) (schemas.Outcome, error) {
	f.puts++
	if _, err := io.Copy(io.Discard, body); err != nil {
		return schemas.Outcome{}, err
	}
	return f.putFn(fileID, token, contentType, size)
}

func success(data string) schemas.Outcome {
	return schemas.Outcome{Kind: schemas.OutcomeSuccess, Data: json.RawMessage(data)}
}

func permitData(fileID, token string) string {
	return fmt.Sprintf(`{"uploadTempPermits":[{"fileIds":[%q],"token":%q}]}`, fileID, token)
}

// writeFile creates a file of the given size in a test directory.
func writeFile(t *testing.T, name string, size int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())
	return path
}

// TestRequestPermit verifies the query parameters and the permit extraction.
func TestRequestPermit(t *testing.T) {
	exec := &fakeExecutor{
		getFn: func(uri string, params url.Values) (schemas.Outcome, error) {
			assert.Equal(t, uriUploadPermit, uri)
			assert.Equal(t, "spectrum", params.Get("biz_name"))
			assert.Equal(t, "image", params.Get("scene"))
			assert.Equal(t, "1", params.Get("file_count"))
			assert.Equal(t, "1", params.Get("version"))
			assert.Equal(t, "web", params.Get("source"))
			return success(permitData("f1", "tok1")), nil
		},
	}
	p := New(exec, zap.NewNop())

	permit, err := p.RequestPermit(context.Background(), "image", 0)
	require.NoError(t, err)
	assert.Equal(t, schemas.UploadPermit{FileID: "f1", Token: "tok1"}, permit)
}

// TestRequestPermitMalformed verifies a successful envelope without the
// expected permit shape is fatal.
func TestRequestPermitMalformed(t *testing.T) {
	for name, data := range map[string]string{
		"no permits":   `{"uploadTempPermits":[]}`,
		"no file ids":  `{"uploadTempPermits":[{"fileIds":[],"token":"t"}]}`,
		"empty token":  `{"uploadTempPermits":[{"fileIds":["f"],"token":""}]}`,
		"wrong object": `{"something":"else"}`,
	} {
		t.Run(name, func(t *testing.T) {
			exec := &fakeExecutor{
				getFn: func(string, url.Values) (schemas.Outcome, error) {
					return success(data), nil
				},
			}
			p := New(exec, zap.NewNop())
			_, err := p.RequestPermit(context.Background(), "image", 1)
			require.ErrorIs(t, err, ErrMalformedPermit)
		})
	}
}

// TestUploadFileVideoSizeLimit verifies an oversized video fails before any
// network call while an image of the same size passes.
func TestUploadFileVideoSizeLimit(t *testing.T) {
	path := writeFile(t, "big.bin", maxVideoBytes+1)
	exec := &fakeExecutor{
		putFn: func(string, string, string, int64) (schemas.Outcome, error) {
			return schemas.Outcome{Kind: schemas.OutcomeRaw, RawStatus: 200}, nil
		},
	}
	p := New(exec, zap.NewNop())
	permit := schemas.UploadPermit{FileID: "f1", Token: "t1"}

	err := p.UploadFile(context.Background(), permit, path, "video/mp4")
	require.ErrorIs(t, err, ErrVideoTooLarge)
	assert.Equal(t, 0, exec.puts)

	require.NoError(t, p.UploadFile(context.Background(), permit, path, "image/jpeg"))
	assert.Equal(t, 1, exec.puts)
}

// TestUploadFileAcceptsRaw2xx verifies the upload origin's non-enveloped
// responses are accepted on 2xx and rejected otherwise.
func TestUploadFileAcceptsRaw2xx(t *testing.T) {
	path := writeFile(t, "img.jpg", 128)
	permit := schemas.UploadPermit{FileID: "f1", Token: "t1"}

	status := 200
	exec := &fakeExecutor{
		putFn: func(fileID, token, contentType string, size int64) (schemas.Outcome, error) {
			assert.Equal(t, "f1", fileID)
			assert.Equal(t, "t1", token)
			assert.Equal(t, "image/jpeg", contentType)
			assert.Equal(t, int64(128), size)
			return schemas.Outcome{Kind: schemas.OutcomeRaw, RawStatus: status}, nil
		},
	}
	p := New(exec, zap.NewNop())

	require.NoError(t, p.UploadFile(context.Background(), permit, path, "image/jpeg"))

	status = 403
	require.Error(t, p.UploadFile(context.Background(), permit, path, "image/jpeg"))
}

// TestBuildNotePayload verifies the publish body shape, in particular the
// double-encoded business_binds field and the post-time conversion.
func TestBuildNotePayload(t *testing.T) {
	payload, err := buildNotePayload(NoteRequest{
		Title:    "标题",
		Desc:     "描述",
		Type:     schemas.NoteTypeNormal,
		PostTime: "2026-09-01 08:30:00",
		Private:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, "normal", payload.Common.Type)
	assert.Equal(t, noteSource, payload.Common.Source)
	assert.Equal(t, 1, payload.Common.PrivacyInfo.OpType)
	assert.Equal(t, 1, payload.Common.PrivacyInfo.Type)

	// business_binds must round-trip as a JSON string field.
	var binds map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload.Common.BusinessBinds), &binds))
	assert.Equal(t, float64(1), binds["version"])

	want := time.Date(2026, 9, 1, 8, 30, 0, 0, time.Local).UnixMilli()
	timing, ok := binds["notePostTiming"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(want), timing["postTime"])
}

// TestBuildNotePayloadImmediate verifies an empty post time publishes
// immediately with a null postTime.
func TestBuildNotePayloadImmediate(t *testing.T) {
	payload, err := buildNotePayload(NoteRequest{Title: "t", Type: schemas.NoteTypeNormal})
	require.NoError(t, err)

	assert.Equal(t, 0, payload.Common.PrivacyInfo.Type)

	var binds map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload.Common.BusinessBinds), &binds))
	timing := binds["notePostTiming"].(map[string]any)
	assert.Nil(t, timing["postTime"])
}

// TestBuildNotePayloadBadPostTime verifies a malformed schedule is rejected
// locally.
func TestBuildNotePayloadBadPostTime(t *testing.T) {
	_, err := buildNotePayload(NoteRequest{PostTime: "tomorrow"})
	require.Error(t, err)
}

// TestCreateImageNote verifies the composite flow: one permit and one upload
// per file in input order, then a single publish binding them all.
func TestCreateImageNote(t *testing.T) {
	img1 := writeFile(t, "a.jpg", 10)
	img2 := writeFile(t, "b.jpg", 20)

	permitIdx := 0
	var published notePayload
	exec := &fakeExecutor{
		getFn: func(string, url.Values) (schemas.Outcome, error) {
			permitIdx++
			return success(permitData(fmt.Sprintf("f%d", permitIdx), fmt.Sprintf("t%d", permitIdx))), nil
		},
		putFn: func(string, string, string, int64) (schemas.Outcome, error) {
			return schemas.Outcome{Kind: schemas.OutcomeRaw, RawStatus: 200}, nil
		},
		postFn: func(uri string, payload any) (schemas.Outcome, error) {
			assert.Equal(t, uriCreateNote, uri)
			published = payload.(notePayload)
			return success(`{"id":"note1"}`), nil
		},
	}
	p := New(exec, zap.NewNop())

	out, err := p.CreateImageNote(context.Background(), ImageNoteRequest{
		Title: "t",
		Desc:  "d",
		Files: []string{img1, img2},
	})
	require.NoError(t, err)
	assert.True(t, out.IsSuccess())

	assert.Equal(t, 2, exec.gets)
	assert.Equal(t, 2, exec.puts)
	assert.Equal(t, 1, exec.posts)

	require.NotNil(t, published.ImageInfo)
	require.Len(t, published.ImageInfo.Images, 2)
	assert.Equal(t, "f1", published.ImageInfo.Images[0].FileID)
	assert.Equal(t, "f2", published.ImageInfo.Images[1].FileID)
	assert.Equal(t, -1, published.ImageInfo.Images[0].Metadata.Source)
	assert.Equal(t, 2, published.ImageInfo.Images[0].Stickers.Version)
	assert.NotNil(t, published.Common.Ats)
	assert.NotNil(t, published.Common.HashTag)
}

// TestCreateImageNoteAbortsMidway verifies a failure at the second file
// stops the run at its phase without publishing and without deleting the
// first upload.
func TestCreateImageNoteAbortsMidway(t *testing.T) {
	img1 := writeFile(t, "a.jpg", 10)
	img2 := writeFile(t, "b.jpg", 10)

	permitIdx := 0
	exec := &fakeExecutor{
		getFn: func(string, url.Values) (schemas.Outcome, error) {
			permitIdx++
			if permitIdx == 2 {
				return schemas.Outcome{
					Kind: schemas.OutcomePlatformError, Code: -1, Message: "denied",
				}, nil
			}
			return success(permitData("f1", "t1")), nil
		},
		putFn: func(string, string, string, int64) (schemas.Outcome, error) {
			return schemas.Outcome{Kind: schemas.OutcomeRaw, RawStatus: 200}, nil
		},
		postFn: func(string, any) (schemas.Outcome, error) {
			t.Fatal("publish must not run after an aborted transfer")
			return schemas.Outcome{}, nil
		},
	}
	p := New(exec, zap.NewNop())

	_, err := p.CreateImageNote(context.Background(), ImageNoteRequest{
		Files: []string{img1, img2},
	})
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, PhasePermit, abort.Phase)
	assert.Equal(t, 1, exec.puts)
	assert.Equal(t, 0, exec.posts)
}

// TestCreateImageNoteTransferFailurePhase verifies an upload failure is
// reported under the transfer phase.
func TestCreateImageNoteTransferFailurePhase(t *testing.T) {
	img := writeFile(t, "a.jpg", 10)
	exec := &fakeExecutor{
		getFn: func(string, url.Values) (schemas.Outcome, error) {
			return success(permitData("f1", "t1")), nil
		},
		putFn: func(string, string, string, int64) (schemas.Outcome, error) {
			return schemas.Outcome{}, errors.New("connection reset")
		},
		postFn: func(string, any) (schemas.Outcome, error) {
			t.Fatal("publish must not run")
			return schemas.Outcome{}, nil
		},
	}
	p := New(exec, zap.NewNop())

	_, err := p.CreateImageNote(context.Background(), ImageNoteRequest{Files: []string{img}})
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, PhaseTransfer, abort.Phase)
}

// TestPhaseString pins the phase names used in abort reports.
func TestPhaseString(t *testing.T) {
	assert.Equal(t, "permit", PhasePermit.String())
	assert.Equal(t, "transfer", PhaseTransfer.String())
	assert.Equal(t, "publish", PhasePublish.String())
	assert.Equal(t, "done", PhaseDone.String())
}
