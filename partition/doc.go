// Package partition implements fixed-block memory pools over an arena.
//
// A partition slices its arena window into equal blocks linked into a free
// list kept inside the free blocks themselves. Getting and returning a block
// are constant time; a bitmap of outstanding blocks rejects bad returns.
package partition
