// Package filelock provides an advisory, cross-process mutex backed by a sibling
// lock file.
//
// # Contract
//
// A Mutex guards one resource path. Acquiring it creates "<path>.lock" with
// O_CREATE|O_EXCL; the file holds a small JSON blob ({pid, startedAt}) that is
// for diagnostics only. Presence and age of the file govern exclusion:
//
//   - If the lock file exists and is younger than StaleAfter, Lock polls every
//     PollInterval until it can create the file or Timeout elapses.
//   - If the lock file is older than StaleAfter, it is removed and acquisition
//     is retried immediately.
//   - If the parent directory is missing, it is created and acquisition retried.
//
// Release removes the lock file; a lock file that is already gone is not an
// error.
//
// The lock only excludes callers that go through it. Code that reads or writes
// the guarded file directly is not serialized.
//
// # Usage
//
//	m := filelock.New("/var/lib/coven/sessions.json", filelock.Options{})
//	err := m.Do(ctx, func() error {
//	    // read-modify-write the guarded file
//	    return nil
//	})
package filelock
