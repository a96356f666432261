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

package streamstore

import "github.com/neohum/edulinker-messenger-tauri/pkg/errtypes"

// NotFound is returned when a stream path or message id has no record.
// Reuses the teacher's pkg/errtypes kind rather than redefining it.
type NotFound = errtypes.NotFound

// IsNotFound marks NotFound-shaped errors.
type IsNotFound = errtypes.IsNotFound

// AlreadyExists is returned by CreateStream for a path already taken.
type AlreadyExists = errtypes.AlreadyExists

// IsAlreadyExists marks AlreadyExists-shaped errors.
type IsAlreadyExists = errtypes.IsAlreadyExists

// InvalidOffset is returned when a range read requests a nonsensical window.
type InvalidOffset string

func (e InvalidOffset) Error() string { return "invalid offset: " + string(e) }
func (e InvalidOffset) IsInvalidOffset() {}

// IsInvalidOffset marks InvalidOffset-shaped errors.
type IsInvalidOffset interface{ IsInvalidOffset() }

// StorageError wraps a SQL failure.
type StorageError string

func (e StorageError) Error() string { return "storage error: " + string(e) }
func (e StorageError) IsStorageError() {}

// IsStorageError marks StorageError-shaped errors.
type IsStorageError interface{ IsStorageError() }

// SerializationError wraps a JSON (de)serialization failure.
type SerializationError string

func (e SerializationError) Error() string { return "serialization error: " + string(e) }
func (e SerializationError) IsSerializationError() {}

// IsSerializationError marks SerializationError-shaped errors.
type IsSerializationError interface{ IsSerializationError() }

// IOError wraps a filesystem failure opening the database file.
type IOError string

func (e IOError) Error() string { return "io error: " + string(e) }
func (e IOError) IsIOError()    {}

// IsIOError marks IOError-shaped errors.
type IsIOError interface{ IsIOError() }
