package main

import (
	"fmt"
	"os"
	"strings"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	daemonAddr = "http://127.0.0.1:7433"
	pidFile    = "cadenced.pid"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = cmdInit()
	case "start":
		err = cmdStart()
	case "stop":
		err = cmdStop()
	case "status":
		err = cmdStatus()
	case "logs":
		err = cmdLogs()
	case "doctor":
		err = cmdDoctor()
	case "config":
		err = cmdConfig()
	case "lessons":
		err = cmdLessons(os.Args[2:])
	case "import":
		err = cmdImport(os.Args[2:])
	case "play":
		err = cmdPlay(os.Args[2:])
	case "show":
		err = cmdShow()
	case "answer":
		err = cmdAnswer(os.Args[2:])
	case "check":
		err = cmdCheck()
	case "next":
		err = cmdNext()
	case "quit":
		err = cmdQuit()
	case "stats":
		err = cmdStats()
	case "refill":
		err = cmdRefill()
	case "mcp":
		err = cmdMCP(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Printf("cadence %s\n", Version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Cadence - Bite-sized lessons with hearts, XP and streaks

Usage:
  cadence <command> [arguments]

Setup Commands:
  init            Initialize Cadence (first-time setup)
  doctor          Check the local setup
  config          Show current configuration

Daemon Commands:
  start           Start the Cadence daemon
  stop            Stop the Cadence daemon
  status          Show daemon status
  logs            View daemon logs

Lesson Commands:
  lessons [cat]   List lessons, optionally for one category
  import [dir]    Import lesson packs into the catalog
  play <id>       Start a lesson (play --review for past mistakes)
  show            Show the current question
  answer <input>  Answer the current question
  check           Check the answer
  next            Continue to the next question
  quit            Abandon the current lesson

Progress Commands:
  stats           Show hearts, XP, streak and lesson statistics
  refill          Refill hearts

Integration Commands:
  mcp             Start MCP server on stdio (mcp --http :7434 for HTTP)

Other:
  help            Show this help message
  version         Show version information

Answer input by question type:
  choice          cadence answer 2          (option number or id)
  fill-in         cadence answer Paris
  blanks          cadence answer first second
  matching        cadence answer term = definition
  sentence        cadence answer 3          (add word 3; -r 1 removes word 1)
  micro-sim       cadence answer 1          (option number)

Examples:
  cadence start                   # Start daemon
  cadence lessons                 # See what is unlocked
  cadence play basics-1           # Start a lesson
  cadence mcp                     # Start MCP server for your editor`)
}

// renderProgressBar creates a visual progress bar
func renderProgressBar(value float64, width int) string {
	filled := int(value * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	empty := width - filled

	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", empty) + "]"
}
