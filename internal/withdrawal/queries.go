package withdrawal

const (
	withdrawalColumns = `id, user_id, currency, chain, CAST(amount AS TEXT), CAST(fee AS TEXT), CAST(actual_amount AS TEXT),
		address, address_tag, remark, txid, status, audit_user_id, audit_time, reject_reason,
		complete_time, created_at, updated_at`

	queryInsertWithdrawal = `
		INSERT INTO withdrawals (id, user_id, currency, chain, amount, fee, actual_amount,
			address, address_tag, remark, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?)`

	querySelectWithdrawals = `SELECT ` + withdrawalColumns + ` FROM withdrawals`

	queryGetWithdrawal = querySelectWithdrawals + ` WHERE id = ?`

	queryCountWithdrawals = `SELECT COUNT(*) FROM withdrawals`

	queryPendingBroadcast = querySelectWithdrawals + `
		WHERE status = 'processing' AND txid = ''
		ORDER BY created_at, id LIMIT ?`

	queryApproveWithdrawal = `
		UPDATE withdrawals SET status = 'processing', audit_user_id = ?, audit_time = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`

	queryRejectWithdrawal = `
		UPDATE withdrawals SET status = 'rejected', audit_user_id = ?, audit_time = ?, reject_reason = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')`

	queryRecordBroadcast = `
		UPDATE withdrawals SET txid = ?, updated_at = ?
		WHERE id = ? AND status = 'processing' AND txid = ''`

	queryCompleteWithdrawal = `
		UPDATE withdrawals SET status = 'completed', txid = CASE WHEN ? = '' THEN txid ELSE ? END,
			complete_time = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'`
)
