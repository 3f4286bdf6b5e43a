package redisx

import "time"

const (
	// Per-channel sync lock: lock:sync:{channel_id}
	KeySyncLock = "lock:sync:%s"

	// Pending OAuth authorization: oauth:state:{nonce} -> JSON {user, marketplace, caller_state, verifier}
	KeyOAuthState = "oauth:state:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLSyncLock   = 5 * time.Minute
	TTLOAuthState = 10 * time.Minute
	TTLDedup      = 48 * time.Hour
)
