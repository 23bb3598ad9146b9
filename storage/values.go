/*
 * RecordDB
 *
 * Copyright 2016 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package storage

/*
PackShortString packs a short string into the value field of a property
block. The third return value is false if the string does not fit.
*/
func PackShortString(s string) (uint64, byte, bool) {
	if len(s) > 8 {
		return 0, 0, false
	}

	var packed uint64

	for i := 0; i < len(s); i++ {
		packed |= uint64(s[i]) << uint(56-i*8)
	}

	return packed, byte(len(s)), true
}

/*
UnpackShortString unpacks a short string from the value field of a
property block.
*/
func UnpackShortString(packed uint64, length byte) string {
	data := make([]byte, length)

	for i := 0; i < int(length); i++ {
		data[i] = byte(packed >> uint(56-i*8))
	}

	return string(data)
}
