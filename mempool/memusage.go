// Copyright (c) 2016-2024 The zecsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"reflect"
)

// dynamicMemUsage approximates the number of bytes of heap reachable from v,
// including v itself.  It is used to compute the cached dynamic usage of a
// pool entry at admission time so removal never has to re-walk the
// transaction.
func dynamicMemUsage(v reflect.Value) uintptr {
	t := v.Type()
	bytes := t.Size()

	// For complex types, peek inside slices/arrays/structs/maps and chase
	// pointers.
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface:
		if !v.IsNil() {
			bytes += dynamicMemUsage(v.Elem())
		}
	case reflect.Array, reflect.Slice:
		for j := 0; j < v.Len(); j++ {
			vi := v.Index(j)
			k := vi.Type().Kind()
			elemB := uintptr(0)
			if t.Kind() == reflect.Array {
				if (k == reflect.Pointer || k == reflect.Interface) && !vi.IsNil() {
					elemB += dynamicMemUsage(vi.Elem())
				}
			} else { // slice
				elemB += dynamicMemUsage(vi)
			}
			if k == reflect.Uint8 {
				// short circuit for byte slice/array
				bytes += elemB * uintptr(v.Len())
				break
			}
			bytes += elemB
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			bytes += dynamicMemUsage(iter.Key())
			bytes += dynamicMemUsage(iter.Value())
		}
	case reflect.Struct:
		for _, f := range reflect.VisibleFields(t) {
			vf := v.FieldByIndex(f.Index)
			k := vf.Type().Kind()
			if (k == reflect.Pointer || k == reflect.Interface) && !vf.IsNil() {
				bytes += dynamicMemUsage(vf.Elem())
			} else if k == reflect.Array || k == reflect.Slice {
				bytes -= vf.Type().Size()
				bytes += dynamicMemUsage(vf)
			}
		}
	}

	return bytes
}

// mapUsage approximates the dynamic memory used by a map with the given
// number of entries whose key and value types have the given combined size.
// The approximation mirrors the bucket layout of the runtime map: eight
// entries per bucket plus per-bucket overhead.
func mapUsage(numEntries int, entrySize uintptr) int64 {
	const bucketOverhead = 16 + 8 // tophash array + overflow pointer
	buckets := (numEntries + 7) / 8
	return int64(uintptr(buckets)*(8*entrySize+bucketOverhead)) + 48
}
