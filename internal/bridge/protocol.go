/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package bridge

import (
	"encoding/json"
)

// Bridge methods.
const (
	MethodInit                        = "init"
	MethodStart                       = "start"
	MethodStop                        = "stop"
	MethodCheckMicrophonePermission   = "checkMicrophonePermission"
	MethodRequestMicrophonePermission = "requestMicrophonePermission"
	MethodAddListener                 = "addListener"
	MethodRemoveListeners             = "removeListeners"
)

// Error codes the bridge adds to the module's own.
const (
	CodeBadRequest    = "BAD_REQUEST"
	CodeUnknownMethod = "UNKNOWN_METHOD"
)

// Request is a host call.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request with the same ID.
type Response struct {
	ID     string         `json:"id"`
	Result any            `json:"result,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError carries a module error code.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is pushed to sessions listening for it.
type Event struct {
	Event   string `json:"event"`
	Payload string `json:"payload"`
}

type listenerParams struct {
	Event string `json:"event"`
}

type removeListenersParams struct {
	Count int `json:"count"`
}
