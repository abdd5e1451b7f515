package core

// UncategorizedBucket is the synthetic category name for transactions
// without a category reference.
const UncategorizedBucket = "Uncategorized"

// CategoryAmount is an amount aggregated under one category name.
type CategoryAmount struct {
	Name   string
	Type   TransactionType
	Amount Money
}

// RangeSummary is the read-only rollup over [From, To].
type RangeSummary struct {
	From       Date
	To         Date
	Income     Money
	Expenses   Money
	Net        Money // signed: income minus expenses
	ByCategory []CategoryAmount
}
