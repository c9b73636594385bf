package main

import "github.com/xiaot623/dataquery/cmd"

func main() {
	cmd.Execute()
}
