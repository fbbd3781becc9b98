// Copyright 2025 FreshFlow
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

package media

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestObjectKey(t *testing.T) {
	s := &Store{bucket: "freshflow-photos"}

	assert.Equal(t, "harvests/h1/a.jpg", s.objectKey("harvests/h1/a.jpg"))
	assert.Equal(t, "harvests/h1/a.jpg", s.objectKey("gs://freshflow-photos/harvests/h1/a.jpg"))

	// References to a different bucket are rejected
	assert.Equal(t, "", s.objectKey("gs://other-bucket/harvests/h1/a.jpg"))
	assert.Equal(t, "", s.objectKey("gs://freshflow-photos"))
}

func TestObjectPath(t *testing.T) {
	key := objectPath("harvests", "harvest-123", "image/jpeg")
	assert.True(t, strings.HasPrefix(key, "harvests/harvest-123/"))
	assert.True(t, strings.HasSuffix(key, ".jpg"))

	// Distinct keys for repeated uploads of the same record
	assert.NotEqual(t, key, objectPath("harvests", "harvest-123", "image/jpeg"))
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".jpg", extensionFor("image/jpeg"))
	assert.Equal(t, ".jpg", extensionFor("IMAGE/JPG"))
	assert.Equal(t, ".png", extensionFor("image/png"))
	assert.Equal(t, ".webp", extensionFor("image/webp"))
	assert.Equal(t, "", extensionFor("application/octet-stream"))
}
