/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import (
	"time"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Page is a limit/offset window over a newest-first listing
type Page struct {
	Limit  int
	Offset int
}

// Clamp returns the page with the limit forced into 1..MaxPageLimit.
func (p Page) Clamp() Page {
	if p.Limit <= 0 || p.Limit > MaxPageLimit {
		p.Limit = DefaultPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// TimeRange bounds created_at. Zero values are open ends.
type TimeRange struct {
	From time.Time
	To   time.Time
}

type BalanceFilter struct {
	UserId   string
	Currency string
	Chain    string
	Page
}

type JournalFilter struct {
	UserId   string
	Currency string
	Chain    string
	Kind     TransactionKind
	TimeRange
	Page
}

type DepositFilter struct {
	UserId   string
	Currency string
	Chain    string
	Status   DepositStatus
	TimeRange
	Page
}

type WithdrawalFilter struct {
	UserId   string
	Currency string
	Chain    string
	Status   WithdrawalStatus
	TimeRange
	Page
}

// PageResult carries one page plus the total number of matching rows
type PageResult[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
}
