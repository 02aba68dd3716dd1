// Package publish drives the platform's three-phase content publication
// protocol: acquire a single-use upload permit, transfer the file bytes,
// then submit the publish request binding the uploaded assets to a note.
//
// The phases are strictly sequential and forward-only. Nothing is retried
// and nothing is compensated: a failure aborts the run at its current phase
// and any assets already transferred stay on the server. That is accepted,
// documented behavior.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/RockyZHH/MediaCrawler/api/schemas"
)

// Phase identifies where a pipeline run is, or where it stopped.
type Phase int

const (
	PhasePermit Phase = iota
	PhaseTransfer
	PhasePublish
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhasePermit:
		return "permit"
	case PhaseTransfer:
		return "transfer"
	case PhasePublish:
		return "publish"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// AbortError is the terminal state of a composite run that failed: it names
// the phase that stopped the pipeline. Files transferred before the failure
// are not rolled back.
type AbortError struct {
	Phase Phase
	Err   error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("publish pipeline aborted at %s phase: %v", e.Phase, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }

// maxVideoBytes is the single-part upload ceiling for video content.
// Chunked transfer for larger files is deliberately unsupported.
const maxVideoBytes = 5 << 20

const videoContentType = "video/mp4"

var (
	// ErrVideoTooLarge is returned before any network call when a video
	// file exceeds the single-part limit.
	ErrVideoTooLarge = errors.New("video exceeds the 5 MiB single-part upload limit")
	// ErrMalformedPermit means the permit endpoint answered successfully
	// but without the expected permit block or file id. Fatal: there is
	// nothing sensible to upload against.
	ErrMalformedPermit = errors.New("upload permit response shape is malformed")
)

// Executor is the slice of the API client the pipeline needs.
type Executor interface {
	Get(ctx context.Context, uri string, params url.Values) (schemas.Outcome, error)
	Post(ctx context.Context, uri string, payload any) (schemas.Outcome, error)
	UploadPut(ctx context.Context, fileID, token, contentType string, body io.Reader, size int64) (schemas.Outcome, error)
}

const (
	uriUploadPermit = "/api/media/v1/upload/web/permit"
	uriCreateNote   = "/web_api/sns/v2/note"
)

// Pipeline runs the publication protocol against an Executor.
type Pipeline struct {
	api    Executor
	logger *zap.Logger
}

// New builds a Pipeline.
func New(api Executor, logger *zap.Logger) *Pipeline {
	return &Pipeline{api: api, logger: logger.Named("publish")}
}

// RequestPermit acquires a single-use upload slot for the given scene
// ("image" or "video"). Exactly one permit block with one file id is
// expected; when multiple come back the first of each is used.
func (p *Pipeline) RequestPermit(ctx context.Context, scene string, count int) (schemas.UploadPermit, error) {
	if count <= 0 {
		count = 1
	}
	params := url.Values{
		"biz_name":   {"spectrum"},
		"scene":      {scene},
		"file_count": {strconv.Itoa(count)},
		"version":    {"1"},
		"source":     {"web"},
	}
	out, err := p.api.Get(ctx, uriUploadPermit, params)
	if err != nil {
		return schemas.UploadPermit{}, err
	}
	if !out.IsSuccess() {
		return schemas.UploadPermit{}, out.Err()
	}

	fileID := out.Get("uploadTempPermits.0.fileIds.0")
	token := out.Get("uploadTempPermits.0.token")
	if !fileID.Exists() || !token.Exists() || fileID.String() == "" || token.String() == "" {
		return schemas.UploadPermit{}, ErrMalformedPermit
	}

	permit := schemas.UploadPermit{FileID: fileID.String(), Token: token.String()}
	p.logger.Debug("upload permit acquired",
		zap.String("scene", scene),
		zap.String("file_id", permit.FileID))
	return permit, nil
}

// UploadFile streams the file at path to the permit's upload slot with one
// unsigned PUT authenticated by the permit token. Video files over the
// single-part limit fail before any network activity. The file handle is
// released when the call returns, success or failure.
func (p *Pipeline) UploadFile(ctx context.Context, permit schemas.UploadPermit, path, contentType string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat upload file: %w", err)
	}
	if contentType == videoContentType && info.Size() > maxVideoBytes {
		return fmt.Errorf("%w: %s is %d bytes", ErrVideoTooLarge, path, info.Size())
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open upload file: %w", err)
	}
	defer f.Close()

	out, err := p.api.UploadPut(ctx, permit.FileID, permit.Token, contentType, f, info.Size())
	if err != nil {
		return err
	}
	// The upload origin answers outside the JSON envelope; any 2xx raw
	// response means the bytes landed.
	switch out.Kind {
	case schemas.OutcomeSuccess:
		return nil
	case schemas.OutcomeRaw:
		if out.RawStatus >= 200 && out.RawStatus < 300 {
			return nil
		}
		return fmt.Errorf("upload rejected with status %d", out.RawStatus)
	default:
		return out.Err()
	}
}

// ImageMetadata describes one uploaded image in the publish payload.
type ImageMetadata struct {
	Source int `json:"source"`
}

// Stickers is the (empty) sticker layer attached to each image.
type Stickers struct {
	Version  int   `json:"version"`
	Floating []any `json:"floating"`
}

// ImageDescriptor binds one uploaded file id into the publish payload.
type ImageDescriptor struct {
	FileID        string        `json:"file_id"`
	Metadata      ImageMetadata `json:"metadata"`
	Stickers      Stickers      `json:"stickers"`
	ExtraInfoJSON string        `json:"extra_info_json"`
}

// ImageInfo is the image section of the publish payload.
type ImageInfo struct {
	Images []ImageDescriptor `json:"images"`
}

// NoteRequest describes one note to publish. PostTime, when set, must be in
// "2006-01-02 15:04:05" local time; empty means publish immediately.
type NoteRequest struct {
	Title     string
	Desc      string
	Type      schemas.NoteType
	Ats       []map[string]any
	Topics    []map[string]any
	ImageInfo *ImageInfo
	VideoInfo map[string]any
	PostTime  string
	Private   bool
}

// The platform requires this literal source marker on web publishes.
const noteSource = `{"type":"web","ids":"","extraInfo":"{\"subType\":\"official\"}"}`

type postTiming struct {
	PostTime *int64 `json:"postTime"`
}

type collectionBind struct {
	ID string `json:"id"`
}

// businessBinds is the sub-object the platform expects double-encoded: it is
// serialized to JSON on its own and embedded as a string field inside the
// outer JSON body. A wire-format requirement, not a choice.
type businessBinds struct {
	Version            int            `json:"version"`
	NoteID             int            `json:"noteId"`
	NoteOrderBind      struct{}       `json:"noteOrderBind"`
	NotePostTiming     postTiming     `json:"notePostTiming"`
	NoteCollectionBind collectionBind `json:"noteCollectionBind"`
}

type privacyInfo struct {
	OpType int `json:"op_type"`
	Type   int `json:"type"`
}

type noteCommon struct {
	Type          string           `json:"type"`
	Title         string           `json:"title"`
	NoteID        string           `json:"note_id"`
	Desc          string           `json:"desc"`
	Source        string           `json:"source"`
	BusinessBinds string           `json:"business_binds"`
	Ats           []map[string]any `json:"ats"`
	HashTag       []map[string]any `json:"hash_tag"`
	PostLoc       struct{}         `json:"post_loc"`
	PrivacyInfo   privacyInfo      `json:"privacy_info"`
}

type notePayload struct {
	Common    noteCommon     `json:"common"`
	ImageInfo *ImageInfo     `json:"image_info"`
	VideoInfo map[string]any `json:"video_info"`
}

// buildNotePayload assembles the publish body, including the double-encoded
// business_binds field.
func buildNotePayload(req NoteRequest) (notePayload, error) {
	var postAt *int64
	if req.PostTime != "" {
		t, err := time.ParseInLocation("2006-01-02 15:04:05", req.PostTime, time.Local)
		if err != nil {
			return notePayload{}, fmt.Errorf("invalid post time %q: %w", req.PostTime, err)
		}
		millis := t.UnixMilli()
		postAt = &millis
	}

	binds := businessBinds{
		Version:            1,
		NotePostTiming:     postTiming{PostTime: postAt},
		NoteCollectionBind: collectionBind{ID: ""},
	}
	bindsJSON, err := json.Marshal(binds)
	if err != nil {
		return notePayload{}, fmt.Errorf("encode business binds: %w", err)
	}

	private := 0
	if req.Private {
		private = 1
	}
	return notePayload{
		Common: noteCommon{
			Type:          string(req.Type),
			Title:         req.Title,
			Desc:          req.Desc,
			Source:        noteSource,
			BusinessBinds: string(bindsJSON),
			Ats:           req.Ats,
			HashTag:       req.Topics,
			PrivacyInfo:   privacyInfo{OpType: 1, Type: private},
		},
		ImageInfo: req.ImageInfo,
		VideoInfo: req.VideoInfo,
	}, nil
}

// CreateNote submits the publish request and returns the executor's outcome
// unchanged.
func (p *Pipeline) CreateNote(ctx context.Context, req NoteRequest) (schemas.Outcome, error) {
	payload, err := buildNotePayload(req)
	if err != nil {
		return schemas.Outcome{}, err
	}
	p.logger.Info("publishing note",
		zap.String("title", req.Title),
		zap.String("type", string(req.Type)),
		zap.Bool("private", req.Private))
	return p.api.Post(ctx, uriCreateNote, payload)
}

// ImageNoteRequest describes an image note publication from local files.
type ImageNoteRequest struct {
	Title    string
	Desc     string
	Files    []string
	PostTime string
	Ats      []map[string]any
	Topics   []map[string]any
	Private  bool
}

// CreateImageNote runs permit and transfer for each file strictly in input
// order (each permit is single-use and each token is consumed exactly once),
// then publishes all uploaded images in one note. A failure at file k aborts
// the whole run; files already transferred are not deleted.
func (p *Pipeline) CreateImageNote(ctx context.Context, req ImageNoteRequest) (schemas.Outcome, error) {
	if req.Ats == nil {
		req.Ats = []map[string]any{}
	}
	if req.Topics == nil {
		req.Topics = []map[string]any{}
	}

	images := make([]ImageDescriptor, 0, len(req.Files))
	for i, file := range req.Files {
		permit, err := p.RequestPermit(ctx, "image", 1)
		if err != nil {
			return schemas.Outcome{}, &AbortError{Phase: PhasePermit,
				Err: fmt.Errorf("file %d of %d (%s): %w", i+1, len(req.Files), file, err)}
		}
		if err := p.UploadFile(ctx, permit, file, "image/jpeg"); err != nil {
			return schemas.Outcome{}, &AbortError{Phase: PhaseTransfer,
				Err: fmt.Errorf("file %d of %d (%s): %w", i+1, len(req.Files), file, err)}
		}
		images = append(images, ImageDescriptor{
			FileID:        permit.FileID,
			Metadata:      ImageMetadata{Source: -1},
			Stickers:      Stickers{Version: 2, Floating: []any{}},
			ExtraInfoJSON: `{"mimeType":"image/jpeg"}`,
		})
	}

	out, err := p.CreateNote(ctx, NoteRequest{
		Title:     req.Title,
		Desc:      req.Desc,
		Type:      schemas.NoteTypeNormal,
		Ats:       req.Ats,
		Topics:    req.Topics,
		ImageInfo: &ImageInfo{Images: images},
		PostTime:  req.PostTime,
		Private:   req.Private,
	})
	if err != nil {
		return out, &AbortError{Phase: PhasePublish, Err: err}
	}
	return out, nil
}
