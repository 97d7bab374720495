// Package pamenc provides the little-endian primitives used by the PAM wire
// protocol.
//
// Reader wraps a byte slice with a cursor and keeps the first error. After an
// error every read is a no-op returning a zero value, so a decoder can issue a
// sequence of reads and check Err once:
//
//	r := pamenc.NewReader(body)
//	typ := r.ReadUint32()
//	size := r.ReadUint32()
//	payload := r.ReadBytes(int(size))
//	if r.Err() != nil {
//	    return r.Err()
//	}
//
// Every read checks the remaining length before touching the buffer; declared
// lengths coming off the wire are never trusted.
package pamenc
