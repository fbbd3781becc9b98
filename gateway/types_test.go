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

package gateway

import "testing"

func TestMaskString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "<empty>"},
		{"a", "***"},
		{"abc", "***"},
		{"abcd", "***"},
		{"abcde", "abcd***"},
		{"ffk-dev-5f1c", "ffk-***"},
		{"ffk-dev-5f1c9b2e8a7d4c3f", "ffk-dev-...4c3f"},
	}

	for _, tt := range tests {
		if got := maskString(tt.in); got != tt.want {
			t.Errorf("maskString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncateString(t *testing.T) {
	if got := truncateString("hello", 10); got != "hello" {
		t.Errorf("expected passthrough, got %q", got)
	}
	if got := truncateString("hello world", 5); got != "hello..." {
		t.Errorf("expected truncation, got %q", got)
	}
}
