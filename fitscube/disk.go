package fitscube

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"
	"github.com/snksoft/crc"
)

// InProcessSuffix is appended to the file name while it is being written
const InProcessSuffix = ".writing"

// crcTable computes FILECRC
var crcTable = crc.NewTable(crc.CRC32)

// Disk is Storage on the local filesystem, encoded with fitsio
type Disk struct {
	// Logger receives header cards that could not be encoded.  nil uses the
	// standard logger.
	Logger *log.Logger
}

// countingWriter tracks how many bytes have been streamed to a file
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type diskFile struct {
	path string
	tmp  string
	f    *os.File

	// cw and fits stream extensions in cube mode; nil in single image mode
	cw   *countingWriter
	fits *fitsio.File

	// primaryLen is the length of the primary HDU at the head of f
	primaryLen int64

	logger *log.Logger
}

// Create makes <path>.writing and, in cube mode, streams the primary HDU to it
func (d Disk) Create(path string, primary *Image) (Container, error) {
	tmp := path + InProcessSuffix
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, err
	}
	c := &diskFile{path: path, tmp: tmp, f: f, logger: d.Logger}
	if primary == nil {
		return c, nil
	}
	c.cw = &countingWriter{w: f}
	c.fits, err = fitsio.Create(c.cw)
	if err == nil {
		err = c.writeHDU(c.fits, primary)
	}
	if err == nil {
		err = f.Sync()
	}
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, err
	}
	c.primaryLen = c.cw.n
	return c, nil
}

func (c *diskFile) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// writeHDU encodes img as the next HDU of fits.  Cards the encoder refuses are
// logged and skipped.
func (c *diskFile) writeHDU(fits *fitsio.File, img *Image) error {
	im := fitsio.NewImage(img.Bitpix, img.Axes)
	defer im.Close()
	hdr := im.Header()
	for _, card := range img.Cards {
		if err := hdr.Append(card); err != nil {
			c.logf("fitscube.Disk: %v: %s=%v: %v", ErrHeader, card.Name, card.Value, err)
		}
	}
	if img.Data != nil {
		if err := im.Write(img.Data); err != nil {
			return err
		}
	}
	return fits.Write(im)
}

// encode renders img as a standalone primary HDU
func (c *diskFile) encode(img *Image) ([]byte, error) {
	var buf bytes.Buffer
	fits, err := fitsio.Create(&buf)
	if err != nil {
		return nil, err
	}
	err = c.writeHDU(fits, img)
	fits.Close()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeChecked renders img with DATASUM and CHECKSUM cards filled in
func (c *diskFile) encodeChecked(img *Image) ([]byte, error) {
	b, err := c.encode(img)
	if err != nil {
		return nil, err
	}
	hlen, err := headerLen(b)
	if err != nil {
		return nil, err
	}
	sum := datasum(b[hlen:])

	checked := *img
	checked.Cards = append([]fitsio.Card(nil), img.Cards...)
	checked.Cards = setCard(checked.Cards, fitsio.Card{Name: "DATASUM", Value: sum, Comment: "data unit checksum"})
	checked.Cards = setCard(checked.Cards, fitsio.Card{Name: "CHECKSUM", Value: checksumPlaceholder, Comment: "HDU checksum"})
	b, err = c.encode(&checked)
	if err != nil {
		return nil, err
	}
	return b, patchChecksum(b)
}

// WritePrimary replaces the contents of the file with img
func (c *diskFile) WritePrimary(img *Image) error {
	if c.fits != nil {
		return errors.New("primary HDU of a data cube holds no image")
	}
	b, err := c.encode(img)
	if err != nil {
		return err
	}
	if _, err = c.f.WriteAt(b, 0); err != nil {
		return err
	}
	if err = c.f.Truncate(int64(len(b))); err != nil {
		return err
	}
	c.primaryLen = int64(len(b))
	return c.f.Sync()
}

// Append streams an image extension to the end of the file
func (c *diskFile) Append(img *Image) error {
	if c.fits == nil {
		return errors.New("cannot add an extension to a single image file")
	}
	if err := c.writeHDU(c.fits, img); err != nil {
		return err
	}
	return c.f.Sync()
}

// extensions is a reader over everything after the primary HDU
func (c *diskFile) extensions() (*io.SectionReader, error) {
	fi, err := c.f.Stat()
	if err != nil {
		return nil, err
	}
	return io.NewSectionReader(c.f, c.primaryLen, fi.Size()-c.primaryLen), nil
}

// fileCRC is the CRC-32 of r
func fileCRC(r io.Reader) (uint32, error) {
	v := crcTable.InitCrc()
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		v = crcTable.UpdateCrc(v, buf[:n])
		if err == io.EOF {
			return crcTable.CRC32(v), nil
		}
		if err != nil {
			return 0, err
		}
	}
}

func formatCRC(v uint32) string {
	return fmt.Sprintf("%08x", v)
}

// Finish writes the final file: the new primary HDU followed by the
// extensions already on disk, then removes the in-process file
func (c *diskFile) Finish(primary *Image) error {
	if c.fits != nil {
		c.fits.Close()
	}
	tail, err := c.extensions()
	if err != nil {
		return err
	}
	img := *primary
	img.Cards = append([]fitsio.Card(nil), primary.Cards...)
	if tail.Size() > 0 {
		v, err := fileCRC(tail)
		if err != nil {
			return errors.Wrap(err, "computing FILECRC")
		}
		img.Cards = setCard(img.Cards, fitsio.Card{Name: "FILECRC", Value: formatCRC(v), Comment: "CRC-32 of the extensions"})
		tail.Seek(0, io.SeekStart)
	}
	head, err := c.encodeChecked(&img)
	if err != nil {
		return errors.Wrap(err, "encoding primary HDU")
	}

	out, err := os.OpenFile(c.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return err
	}
	_, err = out.Write(head)
	if err == nil {
		_, err = io.Copy(out, tail)
	}
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(c.path)
		return err
	}
	c.f.Close()
	return os.Remove(c.tmp)
}

// Abort closes the file and leaves <path>.writing behind for inspection
func (c *diskFile) Abort() error {
	if c.fits != nil {
		c.fits.Close()
	}
	return c.f.Close()
}
