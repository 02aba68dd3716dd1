package schemas

// SignatureHeaders are the four request-scoped authentication headers derived
// from the session cookies and the external signing oracle. They are computed
// per request and never persisted.
type SignatureHeaders struct {
	XS      string
	XT      string
	XCommon string
	TraceID string
}

// Canonical header names for the signature set.
const (
	HeaderXS      = "X-S"
	HeaderXT      = "X-T"
	HeaderXCommon = "x-S-Common"
	HeaderTraceID = "X-B3-Traceid"
)

// Complete reports whether all four headers are present. A partial set must
// never be applied to a session.
func (h SignatureHeaders) Complete() bool {
	return h.XS != "" && h.XT != "" && h.XCommon != "" && h.TraceID != ""
}

// Cookie is one name/value pair from the browser context snapshot.
type Cookie struct {
	Name  string
	Value string
}

// UploadPermit is a server-issued, single-use authorization for uploading one
// binary asset. It is requested immediately before a transfer and consumed
// exactly once.
type UploadPermit struct {
	FileID string
	Token  string
}

// NoteType identifies the kind of content item being published.
type NoteType string

const (
	NoteTypeNormal NoteType = "normal"
	NoteTypeVideo  NoteType = "video"
)

// SearchSortType selects the ordering of keyword search results.
type SearchSortType string

const (
	SortGeneral        SearchSortType = "general"
	SortTimeDescending SearchSortType = "time_descending"
	SortMostPopular    SearchSortType = "popularity_descending"
)

// SearchNoteType filters keyword search results by content kind.
type SearchNoteType int

const (
	SearchNoteAll SearchNoteType = iota
	SearchNoteVideo
	SearchNoteImage
)
