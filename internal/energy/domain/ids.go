package energy

// MemberID identifies a community member.
type MemberID string

// DeviceID identifies a metering device.
type DeviceID string

// OwnerKind tags what a device resolves to.
type OwnerKind int

const (
	OwnerMember OwnerKind = iota + 1
	OwnerExport
	OwnerCommunity
)

func (k OwnerKind) String() string {
	switch k {
	case OwnerMember:
		return "member"
	case OwnerExport:
		return "export"
	case OwnerCommunity:
		return "community"
	default:
		return "unknown"
	}
}

// DeviceOwner is either a member or one of the two reserved sinks.
type DeviceOwner struct {
	Kind   OwnerKind
	Member MemberID
}

// MemberOwner returns the owner variant for a member.
func MemberOwner(id MemberID) DeviceOwner {
	return DeviceOwner{Kind: OwnerMember, Member: id}
}

// ExportSink is the owner of the export device.
func ExportSink() DeviceOwner { return DeviceOwner{Kind: OwnerExport} }

// CommunitySink is the owner of the community device.
func CommunitySink() DeviceOwner { return DeviceOwner{Kind: OwnerCommunity} }

// IsMember reports whether the owner is a member.
func (o DeviceOwner) IsMember() bool { return o.Kind == OwnerMember }

func (o DeviceOwner) String() string {
	if o.Kind == OwnerMember {
		return "member:" + string(o.Member)
	}
	return o.Kind.String()
}

// AccountKind tags a ledger account.
type AccountKind int

const (
	AccountMember AccountKind = iota + 1
	AccountCommunity
	AccountExport
	AccountImport
)

func (k AccountKind) String() string {
	switch k {
	case AccountMember:
		return "member"
	case AccountCommunity:
		return "community"
	case AccountExport:
		return "export"
	case AccountImport:
		return "import"
	default:
		return "unknown"
	}
}

// Account is a party holding a cash-credit balance.
type Account struct {
	Kind   AccountKind
	Member MemberID
}

// MemberAccount returns the account of a member.
func MemberAccount(id MemberID) Account { return Account{Kind: AccountMember, Member: id} }

// CommunityAccount is the community fund.
func CommunityAccount() Account { return Account{Kind: AccountCommunity} }

// ExportAccount is the grid export counterparty.
func ExportAccount() Account { return Account{Kind: AccountExport} }

// ImportAccount is the grid import counterparty.
func ImportAccount() Account { return Account{Kind: AccountImport} }

func (a Account) String() string {
	if a.Kind == AccountMember {
		return "member:" + string(a.Member)
	}
	return a.Kind.String()
}

// accountOf maps a consuming owner to the account billed for it.
func accountOf(owner DeviceOwner) Account {
	switch owner.Kind {
	case OwnerMember:
		return MemberAccount(owner.Member)
	case OwnerCommunity:
		return CommunityAccount()
	default:
		return ExportAccount()
	}
}
