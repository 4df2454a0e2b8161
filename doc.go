// Package imap implements a synchronous IMAP4rev1 client engine.
//
// It covers the operations a mail-watching service needs:
//
//   - Connecting over implicit TLS, STARTTLS, or plaintext, optionally
//     through an HTTP CONNECT proxy
//   - Authenticating with LOGIN or XOAUTH2 (OAuth 2.0)
//   - Listing folders flat or as a tree, with modified UTF-7 names decoded
//   - Selecting/examining folders, searching (UID SEARCH), and fetching
//     message overviews and full bodies
//   - Moving messages, setting flags, deleting, expunging, and appending
//   - A blocking IDLE watch that resolves announced messages and survives
//     dropped connections
//
// Every client is built from an explicit Config; there is no package-level
// state to mutate. A Client drives one connection from one goroutine at a
// time; run one client per worker for parallel mailbox work.
package imap
