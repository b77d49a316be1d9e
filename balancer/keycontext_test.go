// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package balancer_test

import (
	"testing"

	"github.com/bufbuild/keylb/balancer"
	"github.com/stretchr/testify/assert"
)

func TestHashtag(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		key      string
		expected string
	}{
		{
			name:     "tagged key",
			key:      "{user1000}.following",
			expected: "user1000",
		},
		{
			name:     "tag in the middle",
			key:      "foo{bar}baz",
			expected: "bar",
		},
		{
			name:     "no braces",
			key:      "nobraces",
			expected: "nobraces",
		},
		{
			name:     "empty tag",
			key:      "foo{}.bar",
			expected: "foo{}.bar",
		},
		{
			name:     "unterminated tag",
			key:      "foo{bar",
			expected: "foo{bar",
		},
		{
			name:     "closing brace first",
			key:      "foo}bar{baz",
			expected: "foo}bar{baz",
		},
		{
			name:     "only first tag counts",
			key:      "{a}{b}",
			expected: "a",
		},
		{
			name:     "nested open brace",
			key:      "{{a}}",
			expected: "{a",
		},
		{
			name:     "empty key",
			key:      "",
			expected: "",
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, testCase.expected, balancer.Hashtag(testCase.key, true))
			// Disabled hashtagging always returns the key unchanged.
			assert.Equal(t, testCase.key, balancer.Hashtag(testCase.key, false))
		})
	}
}

func TestKeyContext(t *testing.T) {
	t.Parallel()

	tagged := balancer.NewKeyContext("{user1000}.following", true)
	assert.Equal(t, "{user1000}.following", tagged.Key())
	assert.Equal(t, "user1000", tagged.HashKey())

	plain := balancer.NewKeyContext("{user1000}.following", false)
	assert.Equal(t, "{user1000}.following", plain.Key())
	assert.Equal(t, "{user1000}.following", plain.HashKey())
}
