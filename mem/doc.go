// Package mem reads, writes and patches the memory of the current process.
//
// Every access goes through a [Guard], which switches the touched pages to
// execute+read+write for the duration of the operation and puts the previous
// protection back afterwards. The typed helpers ([Read], [Write], [Set], [Nop],
// [Copy], [Call]) acquire the guard over exactly the bytes they touch and flush
// the instruction cache so that patched code is picked up by the CPU.
//
// Nothing here is synchronized. Two guards over overlapping ranges, whether on
// one goroutine or several, will step on each other's saved protection.
//
// Supported platforms are Linux and Windows. Other Unix systems work, but the
// previous protection of a page cannot be queried there and is assumed to be
// read+execute.
package mem
