package request

type Register struct {
	Name  string `json:"name" binding:"required,max=64"`
	Email string `json:"email" binding:"required,email,max=255"`
}
