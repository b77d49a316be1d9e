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

package balancer

import "strings"

// KeyContext carries the key a request is addressed to, along with
// whether hashtagging is enabled for it. It is passed to a [Balancer]
// to select a backend.
type KeyContext struct {
	key         string
	hashtagging bool
}

// NewKeyContext creates a KeyContext for the given raw key.
func NewKeyContext(key string, enableHashtagging bool) KeyContext {
	return KeyContext{key: key, hashtagging: enableHashtagging}
}

// Key returns the raw key.
func (c KeyContext) Key() string {
	return c.key
}

// HashKey returns the effective key to hash for backend selection:
// the raw key with [Hashtag] applied.
func (c KeyContext) HashKey() string {
	return Hashtag(c.key, c.hashtagging)
}

// Hashtag extracts the portion of a key that should be hashed for
// backend selection, following the redis-cluster hashtag convention:
// the substring strictly between the first '{' and the first '}' that
// follows it. If disabled, if there are no braces, or if the tag is
// empty ("{}"), the key is returned unchanged. This lets clients force
// related keys onto the same backend.
//
// https://redis.io/topics/cluster-spec#keys-hash-tags
func Hashtag(key string, enabled bool) string {
	if !enabled {
		return key
	}
	start := strings.IndexByte(key, '{')
	if start < 0 {
		return key
	}
	length := strings.IndexByte(key[start+1:], '}')
	if length <= 0 {
		return key
	}
	return key[start+1 : start+1+length]
}
