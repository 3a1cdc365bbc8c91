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

	"github.com/shopspring/decimal"
)

// ChainEventType names the chain notifications the listener understands
type ChainEventType string

const (
	EventDeposit             ChainEventType = "deposit"
	EventWithdrawalConfirmed ChainEventType = "withdrawal_confirmed"
	EventWithdrawalFailed    ChainEventType = "withdrawal_failed"
)

// ChainEvent is a chain watcher notification as carried on the chain topic
type ChainEvent struct {
	Type                  ChainEventType  `json:"type"`
	TxId                  string          `json:"txid"`
	UserId                string          `json:"user_id,omitempty"`
	Currency              string          `json:"currency,omitempty"`
	Chain                 string          `json:"chain,omitempty"`
	Address               string          `json:"address,omitempty"`
	FromAddress           string          `json:"from_address,omitempty"`
	Amount                decimal.Decimal `json:"amount"`
	Confirmations         int             `json:"confirmations"`
	RequiredConfirmations int             `json:"required_confirmations,omitempty"`
	WithdrawalId          string          `json:"withdrawal_id,omitempty"`
	Reason                string          `json:"reason,omitempty"`
	ObservedAt            time.Time       `json:"observed_at"`
}
