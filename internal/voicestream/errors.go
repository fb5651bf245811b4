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

package voicestream

import (
	"errors"
	"fmt"
)

// Code identifies the failure class reported to the host.
type Code string

const (
	CodeInit         Code = "INIT_ERROR"
	CodeStart        Code = "START_ERROR"
	CodeStop         Code = "STOP_ERROR"
	CodePermission   Code = "PERMISSION_ERROR"
	CodeAudioRecord  Code = "AUDIO_RECORD_ERROR"
	CodeInvalidEvent Code = "INVALID_EVENT"
)

// Error is a host-facing failure with a stable code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func newError(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code carried by err, or "" if err is not an *Error.
func CodeOf(err error) Code {
	var vsErr *Error
	if errors.As(err, &vsErr) {
		return vsErr.Code
	}
	return ""
}
