// Copyright 2018-2019 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

package uploadstore

import (
	"fmt"

	"github.com/neohum/edulinker-messenger-tauri/pkg/errtypes"
)

// NotFound is returned when an upload id has no record. Reuses the
// teacher's pkg/errtypes kind rather than redefining it.
type NotFound = errtypes.NotFound

// IsNotFound marks NotFound-shaped errors.
type IsNotFound = errtypes.IsNotFound

// InvalidOffset is returned when a PATCH's Upload-Offset does not match
// the record's current offset (§4.A write, §8 Upload offset monotonicity).
type InvalidOffset struct {
	Expected int64
	Actual   int64
}

func (e InvalidOffset) Error() string {
	return fmt.Sprintf("invalid offset: expected %d, got %d", e.Expected, e.Actual)
}
func (e InvalidOffset) IsInvalidOffset() {}

// IsInvalidOffset marks InvalidOffset-shaped errors.
type IsInvalidOffset interface{ IsInvalidOffset() }

// FileTooLarge is returned from create() when length exceeds the
// configured max (§4.A).
type FileTooLarge struct {
	Size int64
	Max  int64
}

func (e FileTooLarge) Error() string {
	return fmt.Sprintf("upload too large: %d exceeds max %d", e.Size, e.Max)
}
func (e FileTooLarge) IsFileTooLarge() {}

// IsFileTooLarge marks FileTooLarge-shaped errors.
type IsFileTooLarge interface{ IsFileTooLarge() }

// InvalidContentType is returned for a PATCH whose Content-Type is not
// application/offset+octet-stream.
type InvalidContentType string

func (e InvalidContentType) Error() string { return "invalid content type: " + string(e) }
func (e InvalidContentType) IsInvalidContentType() {}

// IsInvalidContentType marks InvalidContentType-shaped errors.
type IsInvalidContentType interface{ IsInvalidContentType() }

// MissingHeader is returned when a required tus header is absent.
type MissingHeader string

func (e MissingHeader) Error() string { return "missing header: " + string(e) }
func (e MissingHeader) IsMissingHeader() {}

// IsMissingHeader marks MissingHeader-shaped errors.
type IsMissingHeader interface{ IsMissingHeader() }

// ChecksumMismatch is returned when Upload-Checksum does not match the
// SHA-256 of the written bytes (§4.A, §8 Checksum correctness).
type ChecksumMismatch string

func (e ChecksumMismatch) Error() string { return "checksum mismatch: " + string(e) }
func (e ChecksumMismatch) IsChecksumMismatch() {}

// IsChecksumMismatch marks ChecksumMismatch-shaped errors.
type IsChecksumMismatch interface{ IsChecksumMismatch() }

// IOError wraps a filesystem failure writing or renaming upload bytes.
type IOError string

func (e IOError) Error() string { return "io error: " + string(e) }
func (e IOError) IsIOError()    {}

// IsIOError marks IOError-shaped errors.
type IsIOError interface{ IsIOError() }

// StorageError wraps a sidecar/metadata persistence failure.
type StorageError string

func (e StorageError) Error() string { return "storage error: " + string(e) }
func (e StorageError) IsStorageError() {}

// IsStorageError marks StorageError-shaped errors.
type IsStorageError interface{ IsStorageError() }
