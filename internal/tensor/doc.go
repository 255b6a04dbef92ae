// Package tensor defines the Buffer type passed between pipeline nodes: a
// named block of bytes with shape metadata, an opaque precision tag and an
// explicit ownership tag.
//
// Buffers are reference counted. The node that produces a buffer holds the
// first reference; every consumer that receives it takes another with
// Retain and drops it with Release. When the last reference is dropped a
// locally owned buffer forgets its bytes, while a plugin owned buffer hands
// its memory back through the release callback bound at construction. Any
// read after that point fails with ErrBufferReleased.
package tensor
