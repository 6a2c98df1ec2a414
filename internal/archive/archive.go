// Package archive defines the packed-asset container contract.
//
// Only the grass-conversion feature reads archives; the core merge
// never touches them. The interface lives here so the load-order
// provider can hand archive lists to a reader without coupling the
// pipeline to any container format.
package archive

// Reader is a packed-asset container opened for enumeration.
type Reader interface {
	// Entries lists the contained asset names in archive order.
	Entries() []string

	// ReadEntry returns the bytes of the asset at the given index.
	ReadEntry(index int) ([]byte, error)

	// Close releases the underlying handle.
	Close() error
}

// Opener opens archive containers by path.
type Opener interface {
	Open(path string) (Reader, error)
}
