package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyProvider   = "provider"
	KeyDeliveryID = "delivery_id"
	KeyEventID    = "event_id"
	KeyEventType  = "event_type"
	KeyBuildID    = "build_id"
	KeyRepoID     = "repository_id"
	KeyRepo       = "repository"
	KeyBranch     = "branch"
	KeyCommit     = "commit_sha"
	KeyTrigger    = "trigger_type"
	KeyStatus     = "status"
	KeyQueueDepth = "queue_depth"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
	KeyMethod     = "method"
	KeyPath       = "path"
	KeyStatusCode = "status_code"
	KeyUserAgent  = "user_agent"
	KeyRemoteAddr = "remote_addr"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Provider(p string) slog.Attr      { return slog.String(KeyProvider, p) }
func DeliveryID(id string) slog.Attr   { return slog.String(KeyDeliveryID, id) }
func EventID(id int64) slog.Attr       { return slog.Int64(KeyEventID, id) }
func EventType(t string) slog.Attr     { return slog.String(KeyEventType, t) }
func BuildID(id string) slog.Attr      { return slog.String(KeyBuildID, id) }
func RepositoryID(id int64) slog.Attr  { return slog.Int64(KeyRepoID, id) }
func Repository(r string) slog.Attr    { return slog.String(KeyRepo, r) }
func Branch(b string) slog.Attr        { return slog.String(KeyBranch, b) }
func Commit(sha string) slog.Attr      { return slog.String(KeyCommit, sha) }
func Trigger(t string) slog.Attr       { return slog.String(KeyTrigger, t) }
func Status(s string) slog.Attr        { return slog.String(KeyStatus, s) }
func QueueDepth(n int) slog.Attr       { return slog.Int(KeyQueueDepth, n) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func Method(m string) slog.Attr        { return slog.String(KeyMethod, m) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func StatusCode(code int) slog.Attr    { return slog.Int(KeyStatusCode, code) }
func UserAgent(ua string) slog.Attr    { return slog.String(KeyUserAgent, ua) }
func RemoteAddr(addr string) slog.Attr { return slog.String(KeyRemoteAddr, addr) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
