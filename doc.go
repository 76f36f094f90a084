// Package graphstore defines the types shared across the store packages: structured errors,
// job UUIDs, store options, logging setup and retry helpers.
//
// The storage core lives in subpackages. encoding holds the varint and string codec every
// on-disk structure is built from; pagestore allocates, stages and commits fixed-size pages;
// commitpoint persists the dual-checksummed root-of-trust records; txlog keeps the append-only
// transaction and statistics logs; graphindex interns graph URIs; cache is the watermark LRU used
// for pages; and store ties them together into write transactions and snapshot readers.
//
// A store directory holds:
//
//	data.bs                 pages of PageSize bytes at offset (id-1)*PageSize
//	master.bs               256-byte commit point records, newest last
//	transactions.bs         transaction payloads
//	transactionheaders.bs   52-byte transaction header records
//	stats.bs                statistics payloads
//	statsheaders.bs         36-byte statistics header records
package graphstore
