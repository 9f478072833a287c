// Package recstore provides an embedded, mmap-based store of fixed-size
// records keyed by positive int64 keys.
//
// A store is a set of files sharing one path prefix: an index file (.idx)
// holding the hash table and both slot allocators, and one or more data
// files (.dat0, .dat1, ...) holding the records. Every file is mapped once
// at [Open] and stays mapped until [Store.Close]. Writes go straight to the
// mapped pages; [Store.Flush] forces them to disk.
//
// Capacity is fixed at creation. The record count, the record size and the
// maximum data file size must be passed identically on every later [Open].
//
// # Basic Usage
//
//	s, err := recstore.Open(recstore.Options{
//	    Path:        "/var/lib/app/users",
//	    RecordCount: 1_000_000,
//	    RecordSize:  256,
//	})
//	if err != nil {
//	    // [ErrIncompatible]: reopen with the original sizing or migrate with [Kit.Resize]
//	}
//	defer s.Close()
//
//	err = s.Put(42, value)        // upsert
//	v, found, err := s.Get(42)    // v is a copy
//	found, err = s.Delete(42)
//
// # Concurrency
//
// [Store] is safe for concurrent use within one process. Reads share a read
// lock; Put, Delete and Flush are serialized. Nothing coordinates separate
// processes, so at most one process may open a store at a time.
//
// # Maintenance
//
// [Kit] works on the data files of a closed store. It scans records,
// rebuilds a lost index ([Kit.RebuildIndex]) and migrates a store to a new
// sizing ([Kit.Resize]).
//
// # Error Handling
//
// Capacity errors ([ErrFull], [ErrTooLarge]) are expected at runtime and
// leave the store unchanged. Structural errors ([ErrIncompatible],
// [ErrCorrupt]) mean the files do not match the configuration or are
// damaged; [Store.Verify] lists the damage and [Kit.RebuildIndex] recovers
// from a bad index.
package recstore
