package migrate

// batch partitions the ordered statement list into Spanner execution
// batches. Spanner rejects mixing statements that force an immediate
// schema-validation pass (add column, alter column, create index, add
// foreign key) with ones that do not (create/drop table, drop column,
// drop index) in one schema-change operation, and caps the statement
// count per operation.
//
// A single greedy pass starts a new batch whenever the incoming
// statement's classification differs from the current batch's or the
// size limit is reached. Given the fixed class ordering of Generate this
// yields the minimum number of batches; same-class statements are never
// reordered to optimize further.
func (e *Engine) batch(stmts []statement) [][]string {
	var (
		batches    [][]string
		current    []string
		validating bool
	)
	flush := func() {
		if len(current) > 0 {
			batches = append(batches, current)
			current = nil
		}
	}
	for _, s := range stmts {
		if len(current) > 0 && (s.validating != validating || len(current) >= e.batchSize) {
			flush()
		}
		if len(current) == 0 {
			validating = s.validating
		}
		current = append(current, s.text)
	}
	flush()
	return batches
}
