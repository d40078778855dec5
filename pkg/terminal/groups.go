package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	infoCmds
	unwindCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Inspecting the call frame sections", infoCmds},
	{"Evaluating unwind tables", unwindCmds},
	{"Other commands", otherCmds},
}
