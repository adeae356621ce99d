package main

import "LERS-backend/cmd"

// @title          LERS API
// @version        2.0
// @description    Lab equipment reservation service.
// @BasePath       /api/v2
// @securityDefinitions.apikey BearerAuth
// @in   header
// @name Authorization
func main() {
	cmd.Execute()
}
