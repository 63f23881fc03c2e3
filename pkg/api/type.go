/*
 * Copyright (c) 2026, the policy-gate authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

// StatusType is the return value of a filter lifecycle hook. It tells the
// host whether the stream may keep flowing through the filter chain.
type StatusType int

const (
	// Running means the filter is processing asynchronously; the stream is
	// suspended until the filter calls Continue or SendLocalReply.
	Running StatusType = iota
	// LocalReply means the filter has already sent a direct response to the
	// client; the stream must not be resumed.
	LocalReply
	// Continue lets the stream proceed to the next filter unchanged.
	Continue
	// StopIteration suspends the stream without buffering the current data.
	StopIteration
	// StopAndBuffer suspends the stream and asks the host to buffer the
	// current data for in-order delivery after a later Continue.
	StopAndBuffer
)

func (s StatusType) String() string {
	switch s {
	case Running:
		return "Running"
	case LocalReply:
		return "LocalReply"
	case Continue:
		return "Continue"
	case StopIteration:
		return "StopIteration"
	case StopAndBuffer:
		return "StopAndBuffer"
	default:
		return "Unknown"
	}
}
