// Package codondb serves read-only SQL queries against a codon usage
// snapshot that is downloaded once and cached locally.
//
// A [Session] owns the whole lifecycle. On first use it looks the snapshot
// up in a persistent [store.Store], downloads it if absent while reporting
// progress, persists it for the next run, and builds a read-only SQLite
// engine over the bytes. Concurrent callers share one initialization.
//
// # Quick Start
//
//	s, err := codondb.New(codondb.WithCacheDir("/var/cache/codondb"))
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	if err := s.Init(ctx); err != nil {
//	    return err
//	}
//	res, err := s.Query(ctx,
//	    "SELECT TTT, TTC FROM codon_usage WHERE org_id = :org",
//	    codondb.Params{":org": 16815},
//	)
//
// # Progress
//
// Start initialization in the background and watch it:
//
//	s.Start()
//	events, cancel := s.Subscribe()
//	defer cancel()
//	for ev := range events {
//	    fmt.Printf("%s %.0f%%\n", ev.Stage, ev.Fraction*100)
//	}
//
// [Session.Status] gives the same information as a snapshot suitable for
// rendering: Loading, a sanitized Error, and Progress in [0, 1].
//
// # Stores
//
// The default store keeps the snapshot on disk under the user cache
// directory. The store/sqlite package keeps it in a SQLite file instead.
// Either can be versioned so that a schema change ignores old entries.
//
// Higher-level helpers for codon usage tables live in the usage package.
package codondb
