package eventservice

import (
	"io"
	"strconv"
	"sync"

	"github.com/joeycumines/go-utilpkg/jsonenc"
)

// tracer writes one JSON object per line, e.g.
//
//	{"kind":"notify","frames":[[9,1],[9,2]]}
//
// A nil tracer discards everything.
type tracer struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
}

func newTracer(w io.Writer) *tracer {
	if w == nil {
		return nil
	}
	return &tracer{w: w}
}

func (x *tracer) record(kind string, frames []Frame, err error) {
	if x == nil {
		return
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	b := append(x.buf[:0], `{"kind":`...)
	b = jsonenc.AppendString(b, kind)
	b = append(b, `,"frames":[`...)
	for i, f := range frames {
		if i != 0 {
			b = append(b, ',')
		}
		b = append(b, '[')
		b = strconv.AppendUint(b, uint64(f.Type), 10)
		b = append(b, ',')
		b = strconv.AppendUint(b, uint64(f.Reason), 10)
		b = append(b, ']')
	}
	b = append(b, ']')
	if err != nil {
		b = append(b, `,"err":`...)
		b = jsonenc.AppendString(b, err.Error())
	}
	b = append(b, "}\n"...)
	x.buf = b

	_, _ = x.w.Write(b)
}
