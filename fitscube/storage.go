package fitscube

import "github.com/astrogo/fitsio"

// Image is one HDU handed to a Container
type Image struct {
	// Name is the EXTNAME of an extension, empty for the primary HDU
	Name string

	// Bitpix is the FITS BITPIX value
	Bitpix int

	// Axes are NAXIS1, NAXIS2, ...  An empty slice is a header-only HDU.
	Axes []int

	// Cards are the header cards beyond the mandatory ones
	Cards []fitsio.Card

	// Data is the pixel buffer in storage representation, []int16, []int32 or
	// []float32.  nil for a header-only HDU.
	Data interface{}
}

// Storage creates containers for FITS files
type Storage interface {
	// Create begins writing the file that will be named path when finished.
	// If primary is not nil, it is written immediately and extensions follow.
	// If primary is nil, the file holds a single image written with
	// WritePrimary.
	Create(path string, primary *Image) (Container, error)
}

// Container is an open file.  Calls are serialized by the Writer.
type Container interface {
	// WritePrimary (re)writes the primary HDU, image and all
	WritePrimary(img *Image) error

	// Append adds an image extension and flushes it to stable storage
	Append(img *Image) error

	// Finish rewrites the primary header as given, adds integrity keywords,
	// and moves the file to its final name
	Finish(primary *Image) error

	// Abort releases the container without finishing it
	Abort() error
}

// setCard replaces the card with the same name or appends c
func setCard(cards []fitsio.Card, c fitsio.Card) []fitsio.Card {
	for i := range cards {
		if cards[i].Name == c.Name {
			cards[i] = c
			return cards
		}
	}
	return append(cards, c)
}
