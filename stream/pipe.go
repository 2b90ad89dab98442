package stream

import "github.com/joeycumines/go-evented/promise"

// Pipe transfers bytes from src to dest by repeatedly reading from src and
// writing to dest, honoring backpressure by never issuing the next read
// until the previous write has settled (spec §4.3 "Backpressure"). It
// terminates when length bytes have been transferred, the last chunk's
// final byte equals delimiter, src closes, or dest becomes unwritable, and
// fulfills with the total byte count transferred. If endOnClose is true and
// src closed naturally (rather than dest becoming unwritable), dest.End is
// issued before Pipe settles.
func Pipe(scheduler promise.Scheduler, src Readable, dest Writable, endOnClose bool, length *int, delimiter *byte) *promise.Promise {
	result, resolve, reject := promise.NewWithResolvers(scheduler)
	total := 0
	remaining := -1
	if length != nil {
		remaining = *length
	}

	var step func()
	step = func() {
		if remaining == 0 {
			resolve(total)
			return
		}
		var readLength *int
		if remaining >= 0 {
			n := remaining
			readLength = &n
		}
		src.Read(readLength, delimiter).Then(
			func(v any) (any, error) {
				chunk := v.([]byte)
				n := len(chunk)
				dest.Write(chunk).Then(
					func(any) (any, error) {
						total += n
						if remaining >= 0 {
							remaining -= n
							if remaining <= 0 {
								resolve(total)
								return nil, nil
							}
						}
						if delimiter != nil && n > 0 && chunk[n-1] == *delimiter {
							resolve(total)
							return nil, nil
						}
						if !dest.IsWritable() {
							resolve(total)
							return nil, nil
						}
						if !src.IsOpen() {
							if endOnClose {
								dest.End(nil)
							}
							resolve(total)
							return nil, nil
						}
						step()
						return nil, nil
					},
					func(err error) (any, error) {
						reject(err)
						return nil, nil
					},
				)
				return nil, nil
			},
			func(err error) (any, error) {
				if !src.IsOpen() {
					if endOnClose {
						dest.End(nil)
					}
					resolve(total)
					return nil, nil
				}
				reject(err)
				return nil, nil
			},
		)
	}
	step()
	return result
}
