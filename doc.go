// Package grouphash implements the hash tables behind grouping and join
// operators of a columnar executor.
//
// Every table shares one algorithm: keys are assigned dense slots in
// parallel arrays, a power-of-two bucket table points at the first slot of
// each bucket, and a parallel |next| array chains colliding slots. Callers
// supply a pre-hash with every key (see package prehash), which lets a
// whole column be hashed up front, possibly with vector arithmetic (see
// package simd), while the branchy table mutation stays a scalar loop.
//
// Tables are specialized per key and value type through generics instead
// of boxing: a key tuple is a comparable type K described by a KeySpec,
// and values are a Number type V. Two shapes are provided:
//
//   - KeyValueMap keeps one record per key and adds to it (grouped SUM and
//     COUNT).
//   - KeyMultiRecordMap keeps an append-only list of records per key (the
//     build side of a join).
//
// Tables are not safe for concurrent use. They are owned by one operator,
// mutated one batch at a time and reused across batches through Reset.
package grouphash
