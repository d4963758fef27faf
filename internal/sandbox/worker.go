package sandbox

// workerScript is the bootstrap evaluated by the worker process. User code
// runs inside a vm context whose globals are exactly the allow-list below;
// require, process, Buffer and the rest of the host environment are not
// reachable from inside it. input and variables are deep-frozen copies, so
// mutation attempts throw in strict mode and silently no-op otherwise —
// either way the engine's state is untouched.
//
// Protocol, one JSON object per line on stdout:
//
//	{type:"ready"}                       handshake, sent once at startup
//	{type:"console", data:[...]}         forwarded console.log arguments
//	{id, type:"success", result}         terminal reply
//	{id, type:"error", error}            terminal reply
//
// The vm-level timeout is a soft first line of defense; the host watchdog
// killing the whole process is the hard guarantee.
const workerScript = `
'use strict';
const vm = require('vm');
const readline = require('readline');

function send(msg) {
  process.stdout.write(JSON.stringify(msg) + '\n');
}

function deepFreeze(obj) {
  if (obj && typeof obj === 'object' && !Object.isFrozen(obj)) {
    Object.freeze(obj);
    for (const key of Object.getOwnPropertyNames(obj)) {
      deepFreeze(obj[key]);
    }
  }
  return obj;
}

const rl = readline.createInterface({ input: process.stdin, terminal: false });

rl.on('line', function (line) {
  let req;
  try {
    req = JSON.parse(line);
  } catch (err) {
    send({ type: 'error', error: 'malformed request: ' + err.message });
    return;
  }

  const input = deepFreeze(req.inputs === undefined ? null : JSON.parse(JSON.stringify(req.inputs)));
  const variables = deepFreeze(JSON.parse(JSON.stringify(req.variables || {})));

  const sandboxConsole = {
    log: function () {
      send({ type: 'console', data: Array.prototype.slice.call(arguments) });
    },
  };

  const context = vm.createContext({
    input: input,
    variables: variables,
    console: sandboxConsole,
    JSON: JSON,
    Math: Math,
    Date: Date,
    Number: Number,
    String: String,
    Boolean: Boolean,
    Array: Array,
    Object: Object,
    RegExp: RegExp,
    parseInt: parseInt,
    parseFloat: parseFloat,
    isNaN: isNaN,
    isFinite: isFinite,
  });

  try {
    const script = new vm.Script('(function (input, variables) {\n' + req.code + '\n})(input, variables)');
    const result = script.runInContext(context, { timeout: req.timeout || 5000 });
    send({ id: req.id, type: 'success', result: result === undefined ? null : result });
  } catch (err) {
    send({ id: req.id, type: 'error', error: String(err && err.message ? err.message : err) });
  }
});

send({ type: 'ready' });
`
