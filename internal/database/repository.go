package database

type Repository interface {
	Ping() error
	Close() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByUsername(username string) (User, error)
	GetGroup(groupId int) (Group, error)
	IsGroupMember(groupId, accountId int) (bool, error)
}
