package imgout

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.jpl.nasa.gov/bdube/camerad/fitskeys"
)

// Key is a header keyword in a message
type Key struct {
	Keyword string `cbor:"k"`
	Type    string `cbor:"t"`
	Value   string `cbor:"v"`
	Comment string `cbor:"c,omitempty"`
}

// OpenMessage is published on <topic>/open when an exposure begins
type OpenMessage struct {
	Sequence string    `cbor:"seq"`
	Name     string    `cbor:"name"`
	Cols     int       `cbor:"cols"`
	Rows     int       `cbor:"rows"`
	Bitpix   int       `cbor:"bitpix"`
	Cube     bool      `cbor:"cube"`
	Frames   int       `cbor:"frames"`
	Keys     []Key     `cbor:"keys,omitempty"`
	Time     time.Time `cbor:"time"`
}

// FrameMessage is published on <topic>/frame for every frame, in index order
type FrameMessage struct {
	Sequence string `cbor:"seq"`
	Index    int    `cbor:"index"`
	Extname  string `cbor:"extname"`
	AmpSec   string `cbor:"ampsec,omitempty"`
	Bitpix   int    `cbor:"bitpix"`
	Cols     int    `cbor:"cols"`
	Rows     int    `cbor:"rows"`
	Keys     []Key  `cbor:"keys,omitempty"`

	// Data are the pixels as they would be in a FITS data unit, big endian
	// and with unsigned 16-bit data offset by 32768, compressed with zstd
	Data []byte `cbor:"data"`
}

// CloseMessage is published on <topic>/close when an exposure ends
type CloseMessage struct {
	Sequence string    `cbor:"seq"`
	Name     string    `cbor:"name"`
	Frames   int       `cbor:"frames"`
	Keys     []Key     `cbor:"keys,omitempty"`
	Start    time.Time `cbor:"start"`
	Stop     time.Time `cbor:"stop"`
	Aborted  bool      `cbor:"aborted"`
}

var (
	encMode cbor.EncMode

	zenc *zstd.Encoder
	zdec *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("imgout: CBOR encoder initialization failed: " + err.Error())
	}
	zenc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("imgout: zstd encoder initialization failed: " + err.Error())
	}
	zdec, err = zstd.NewReader(nil)
	if err != nil {
		panic("imgout: zstd decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes a message
func Marshal(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes a message
func Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}

func keys(db *fitskeys.DB) []Key {
	entries := db.Entries()
	if len(entries) == 0 {
		return nil
	}
	out := make([]Key, len(entries))
	for i, e := range entries {
		out[i] = Key{Keyword: e.Keyword, Type: string(e.Type), Value: e.Value, Comment: e.Comment}
	}
	return out
}

// pixelBytes encodes pixels the way a FITS data unit holds them and
// returns the BITPIX
func pixelBytes(data interface{}) ([]byte, int, error) {
	var buf bytes.Buffer
	switch v := data.(type) {
	case []uint16:
		buf.Grow(2 * len(v))
		var b [2]byte
		for _, x := range v {
			binary.BigEndian.PutUint16(b[:], x-32768)
			buf.Write(b[:])
		}
		return buf.Bytes(), 16, nil
	case []int16:
		err := binary.Write(&buf, binary.BigEndian, v)
		return buf.Bytes(), 16, err
	case []int32:
		err := binary.Write(&buf, binary.BigEndian, v)
		return buf.Bytes(), 32, err
	case []float32:
		buf.Grow(4 * len(v))
		var b [4]byte
		for _, x := range v {
			binary.BigEndian.PutUint32(b[:], math.Float32bits(x))
			buf.Write(b[:])
		}
		return buf.Bytes(), -32, nil
	}
	return nil, 0, errors.Errorf("unsupported pixel buffer %T", data)
}

// Compress compresses pixel bytes for a FrameMessage
func Compress(b []byte) []byte {
	return zenc.EncodeAll(b, make([]byte, 0, len(b)/2))
}

// Decompress reverses Compress
func Decompress(b []byte) ([]byte, error) {
	return zdec.DecodeAll(b, nil)
}
