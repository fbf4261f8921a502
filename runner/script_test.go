package runner

import (
	"strings"
	"testing"
)

func TestPythonRunLinePlain(t *testing.T) {
	line, err := pythonRunLine("main.py", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if line != "python 'main.py'" {
		t.Errorf("got %q", line)
	}
}

func TestPythonRunLineWithArgs(t *testing.T) {
	line, err := pythonRunLine("main.py", "", `world "two words"`)
	if err != nil {
		t.Fatal(err)
	}
	if line != "python 'main.py' 'world' 'two words'" {
		t.Errorf("got %q", line)
	}
}

func TestPythonRunLineRunMethod(t *testing.T) {
	line, err := pythonRunLine("main.py", "run", "world")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(line, "python -c ") {
		t.Errorf("got %q", line)
	}
	if !strings.Contains(line, `import main; main.run("world")`) {
		t.Errorf("got %q", line)
	}
}

func TestPythonRunLineBadInput(t *testing.T) {
	if _, err := pythonRunLine("main.py", "", `unterminated "quote`); err == nil {
		t.Error("expected tokenize error")
	}
}

func TestJavaAssignmentScript(t *testing.T) {
	script := javaAssignmentScript("com.example.Main")
	for _, want := range []string{
		"javac $(find . -path ./test -prune -o -name '*.java' -print) 2> main_compile_errors.txt",
		"[ -s main_compile_errors.txt ] && exit 1",
		"javac -cp '.:/junit/*' $(find test -name '*.java' -print) 2> test_compile_errors.txt",
		"[ -s test_compile_errors.txt ] && exit 1",
		"java -cp . com.example.Main > program_output.txt 2>&1",
		"java -cp '.:/junit/*:test' org.junit.platform.console.ConsoleLauncher --scan-class-path",
		" ms\"",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q:\n%s", want, script)
		}
	}
	// main compilation must happen before test compilation, tests last
	mainIdx := strings.Index(script, "main_compile_errors.txt")
	testIdx := strings.Index(script, "test_compile_errors.txt")
	launchIdx := strings.Index(script, "ConsoleLauncher")
	if !(mainIdx < testIdx && testIdx < launchIdx) {
		t.Error("stage ordering wrong")
	}
}

func TestCppAssignmentScript(t *testing.T) {
	script := cppAssignmentScript([]string{"main.cpp", "util.cpp"}, []string{"test.cpp", "util.cpp"})
	for _, want := range []string{
		"g++ -o program 'main.cpp' 'util.cpp' 2> compile_errors.txt",
		"[ -s compile_errors.txt ] && exit 1",
		"./program > program_output.txt 2>&1",
		"g++ -o test 'test.cpp' 'util.cpp' 2> test_compile_errors.txt",
		"./test -r json",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q:\n%s", want, script)
		}
	}
}

func TestCppUnits(t *testing.T) {
	files := map[string]string{
		"main.cpp":   "x",
		"util.cpp":   "x",
		"helper.cpp": "x",
		"header.h":   "x",
		"data.txt":   "x",
	}
	units := cppUnits(files, "main.cpp")
	if len(units) != 2 || units[0] != "helper.cpp" || units[1] != "util.cpp" {
		t.Errorf("got %v", units)
	}
}

func TestShellQuote(t *testing.T) {
	cases := map[string]string{
		"":            "''",
		"plain":       "'plain'",
		"two words":   "'two words'",
		"it's":        `'it'\''s'`,
		"$(rm -rf /)": "'$(rm -rf /)'",
	}
	for in, want := range cases {
		if got := shellQuote(in); got != want {
			t.Errorf("shellQuote(%q) = %q, want %q", in, got, want)
		}
	}
}
