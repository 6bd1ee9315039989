package codec

import (
	"github.com/zaf/g711"

	mediartp "github.com/arzzra/rcs_media/pkg/rtp"
)

// G711Law вариант компандирования G.711
type G711Law int

const (
	G711Ulaw G711Law = iota // PCMU, payload type 0
	G711Alaw                // PCMA, payload type 8
)

func (l G711Law) String() string {
	if l == G711Alaw {
		return "pcma"
	}
	return "pcmu"
}

// G711Encoder кодирует 16-битный линейный PCM (little-endian) в G.711
type G711Encoder struct {
	law G711Law
}

// NewG711Encoder создает кодер
func NewG711Encoder(law G711Law) *G711Encoder {
	return &G711Encoder{law: law}
}

func (e *G711Encoder) Name() string { return e.law.String() + "-encoder" }

func (e *G711Encoder) Process(in, out *mediartp.Buffer) mediartp.Result {
	if len(in.Data) < 2 {
		return mediartp.ResultOutputNotFilled
	}

	out.CopyHeader(in)
	if e.law == G711Alaw {
		out.Data = g711.EncodeAlaw(in.Data)
	} else {
		out.Data = g711.EncodeUlaw(in.Data)
	}
	return mediartp.ResultProcessedOK
}

// G711Decoder декодирует G.711 в 16-битный линейный PCM
type G711Decoder struct {
	law G711Law
}

// NewG711Decoder создает декодер
func NewG711Decoder(law G711Law) *G711Decoder {
	return &G711Decoder{law: law}
}

func (d *G711Decoder) Name() string { return d.law.String() + "-decoder" }

func (d *G711Decoder) Process(in, out *mediartp.Buffer) mediartp.Result {
	if len(in.Data) == 0 {
		return mediartp.ResultOutputNotFilled
	}

	out.CopyHeader(in)
	if d.law == G711Alaw {
		out.Data = g711.DecodeAlaw(in.Data)
	} else {
		out.Data = g711.DecodeUlaw(in.Data)
	}
	return mediartp.ResultProcessedOK
}
