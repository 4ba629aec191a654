package constants

const (
	ViewPools           = "view_pools"
	Invest              = "invest"
	ManagePools         = "manage_pools"
	IssueDistributions  = "issue_distributions"
	PayoutDistributions = "payout_distributions"
)
