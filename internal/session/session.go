// Package session tracks live sessions: which connection belongs to which
// user, which room each user is in, and the member set and live count of
// every room.
package session
