// Package usercache provides the read-through cache for the user-lookup path
// (session validation and profile retrieval). Users are cached once under
// their numeric id; alternate unique attributes (email, username, phone) are
// cached as pointer entries resolving back to the id, so there is never more
// than one copy of a user to diverge.
//
// On a miss the caller-supplied loader reads the system of record and the
// cache is populated under the user's full key set. "Not found" results are
// never cached: a user may be created moments later and a negative entry
// would shadow them.
//
// Concurrent misses on the same key may each call the loader independently.
// There is deliberately no single-flight deduplication; the load is a single
// indexed read and the simplicity is worth the occasional duplicate query.
package usercache
